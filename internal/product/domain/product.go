package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductStatus string

// MaxQuantity es el tope de available_quantity: la columna es INTEGER en ambos esquemas.
const MaxQuantity = math.MaxInt32

const (
	StatusActive       ProductStatus = "ACTIVE"
	StatusInactive     ProductStatus = "INACTIVE"
	StatusOutOfStock   ProductStatus = "OUT_OF_STOCK"
	StatusDiscontinued ProductStatus = "DISCONTINUED"
)

// Valid indica si el estado pertenece al conjunto cerrado de estados.
func (s ProductStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusOutOfStock, StatusDiscontinued:
		return true
	}
	return false
}

// Product es el registro de inventario. Nunca se borra: la baja se modela con el estado.
type Product struct {
	ID                uuid.UUID       `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int             `json:"availableQuantity"`
	Status            ProductStatus   `json:"status"`
	SKU               string          `json:"sku"`
	Category          string          `json:"category"`
	Brand             string          `json:"brand"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// --- Métodos de dominio ---

// CheckReducible valida una reducción sin mutar el producto.
func (p *Product) CheckReducible(quantity int) error {
	if p.Status != StatusActive {
		return fmt.Errorf("%w: %s", ErrProductNotActive, p.ID)
	}
	if p.AvailableQuantity < quantity {
		return fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, p.ID, p.AvailableQuantity, quantity)
	}
	return nil
}

// Reduce descuenta stock ya validado. Devuelve true si el producto pasa a OUT_OF_STOCK.
func (p *Product) Reduce(quantity int) bool {
	p.AvailableQuantity -= quantity
	p.UpdatedAt = time.Now().UTC()
	return p.MarkOutOfStockIfEmpty()
}

// MarkOutOfStockIfEmpty fuerza OUT_OF_STOCK al llegar a cero.
// Se usa también tras un AtomicDecrement, donde el store ya descontó la cantidad.
func (p *Product) MarkOutOfStockIfEmpty() bool {
	if p.AvailableQuantity == 0 {
		p.Status = StatusOutOfStock
		return true
	}
	return false
}

// CheckIncreasable valida un incremento: todo salvo DISCONTINUED, y sin pasar de MaxQuantity.
func (p *Product) CheckIncreasable(quantity int) error {
	if p.Status == StatusDiscontinued {
		return fmt.Errorf("%w: %s", ErrProductDiscontinued, p.ID)
	}
	if quantity > MaxQuantity-p.AvailableQuantity {
		return fmt.Errorf("%w: product %s has %d, adding %d exceeds %d",
			ErrInvalidRequest, p.ID, p.AvailableQuantity, quantity, MaxQuantity)
	}
	return nil
}

// Increase suma stock. Devuelve true si el producto vuelve a estar en stock.
func (p *Product) Increase(quantity int) bool {
	p.AvailableQuantity += quantity
	p.UpdatedAt = time.Now().UTC()

	backInStock := p.Status == StatusOutOfStock && p.AvailableQuantity > 0
	if backInStock {
		p.Status = StatusActive
	}
	return backInStock
}

func (p *Product) Activate() {
	p.Status = StatusActive
	p.UpdatedAt = time.Now().UTC()
}

func (p *Product) Deactivate() {
	p.Status = StatusInactive
	p.UpdatedAt = time.Now().UTC()
}

// ChangePrice exige un precio estrictamente positivo.
func (p *Product) ChangePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidRequest)
	}
	p.Price = price
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone devuelve una copia independiente (los stores en memoria no comparten punteros).
func (p *Product) Clone() *Product {
	c := *p
	return &c
}
