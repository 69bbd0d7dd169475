package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

// Los valores viajan tal cual en el campo "eventType" del mensaje.
const (
	EventProductCreated     EventType = "PRODUCT_CREATED"
	EventInventoryReduced   EventType = "INVENTORY_REDUCED"
	EventInventoryIncreased EventType = "INVENTORY_INCREASED"
	EventOutOfStock         EventType = "OUT_OF_STOCK"
	EventBackInStock        EventType = "PRODUCT_BACK_IN_STOCK"
	EventProductActivated   EventType = "PRODUCT_ACTIVATED"
	EventProductDeactivated EventType = "PRODUCT_DEACTIVATED"
	EventPriceUpdated       EventType = "PRICE_UPDATED"
)

// Category es el canal lógico al que va un evento; el router lo traduce a exchange + routing key.
type Category string

const (
	CategoryAnalytics           Category = "analytics"
	CategoryWarehouse           Category = "warehouse"
	CategoryDelayedNotification Category = "delayed-notification"
	CategoryUserNotification    Category = "user-notification"
)

// Event es el conjunto cerrado de eventos de producto. Solo este paquete puede implementarlo.
type Event interface {
	EventType() EventType
	Base() Snapshot
	isProductEvent()
}

// Snapshot son los campos comunes a todos los eventos, con el estado posterior a la mutación.
type Snapshot struct {
	ProductID         uuid.UUID     `json:"productId"`
	SKU               string        `json:"sku"`
	Status            ProductStatus `json:"status"`
	AvailableQuantity int           `json:"availableQuantity"`
	Timestamp         int64         `json:"timestamp"` // epoch millis
	Type              EventType     `json:"eventType"`
}

func (s Snapshot) EventType() EventType { return s.Type }
func (s Snapshot) Base() Snapshot       { return s }

// OccurredAt convierte el timestamp en milisegundos a time.Time.
func (s Snapshot) OccurredAt() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

func newSnapshot(p *Product, t EventType, at time.Time) Snapshot {
	return Snapshot{
		ProductID:         p.ID,
		SKU:               p.SKU,
		Status:            p.Status,
		AvailableQuantity: p.AvailableQuantity,
		Timestamp:         at.UnixMilli(),
		Type:              t,
	}
}

// ---------------- Variantes ----------------

type ProductCreated struct {
	Snapshot
}

type InventoryReduced struct {
	Snapshot
	QuantityReduced int `json:"quantityReduced"`
}

// OutOfStock deriva de InventoryReduced y conserva quantityReduced.
type OutOfStock struct {
	Snapshot
	QuantityReduced int `json:"quantityReduced"`
}

type InventoryIncreased struct {
	Snapshot
	QuantityAdded int `json:"quantityAdded"`
}

// BackInStock deriva de InventoryIncreased y conserva quantityAdded.
type BackInStock struct {
	Snapshot
	QuantityAdded int `json:"quantityAdded"`
}

type ProductActivated struct {
	Snapshot
}

type ProductDeactivated struct {
	Snapshot
}

type PriceUpdated struct {
	Snapshot
	NewPrice decimal.Decimal `json:"newPrice"`
}

// MarshalJSON emite newPrice como número JSON conservando la escala, con al menos dos decimales.
func (e PriceUpdated) MarshalJSON() ([]byte, error) {
	type wire struct {
		Snapshot
		NewPrice json.Number `json:"newPrice"`
	}
	return json.Marshal(wire{Snapshot: e.Snapshot, NewPrice: json.Number(priceText(e.NewPrice))})
}

func priceText(d decimal.Decimal) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	return d.StringFixed(places)
}

func (ProductCreated) isProductEvent()     {}
func (InventoryReduced) isProductEvent()   {}
func (OutOfStock) isProductEvent()         {}
func (InventoryIncreased) isProductEvent() {}
func (BackInStock) isProductEvent()        {}
func (ProductActivated) isProductEvent()   {}
func (ProductDeactivated) isProductEvent() {}
func (PriceUpdated) isProductEvent()       {}

// ---------------- Constructores ----------------

func NewProductCreated(p *Product, at time.Time) ProductCreated {
	return ProductCreated{Snapshot: newSnapshot(p, EventProductCreated, at)}
}

func NewInventoryReduced(p *Product, quantity int, at time.Time) InventoryReduced {
	return InventoryReduced{Snapshot: newSnapshot(p, EventInventoryReduced, at), QuantityReduced: quantity}
}

// OutOfStockFrom copia el evento de analítica cambiando solo el tipo.
func OutOfStockFrom(e InventoryReduced) OutOfStock {
	s := e.Snapshot
	s.Type = EventOutOfStock
	return OutOfStock{Snapshot: s, QuantityReduced: e.QuantityReduced}
}

func NewInventoryIncreased(p *Product, quantity int, at time.Time) InventoryIncreased {
	return InventoryIncreased{Snapshot: newSnapshot(p, EventInventoryIncreased, at), QuantityAdded: quantity}
}

// BackInStockFrom copia el evento de analítica cambiando solo el tipo.
func BackInStockFrom(e InventoryIncreased) BackInStock {
	s := e.Snapshot
	s.Type = EventBackInStock
	return BackInStock{Snapshot: s, QuantityAdded: e.QuantityAdded}
}

func NewProductActivated(p *Product, at time.Time) ProductActivated {
	return ProductActivated{Snapshot: newSnapshot(p, EventProductActivated, at)}
}

func NewProductDeactivated(p *Product, at time.Time) ProductDeactivated {
	return ProductDeactivated{Snapshot: newSnapshot(p, EventProductDeactivated, at)}
}

func NewPriceUpdated(p *Product, at time.Time) PriceUpdated {
	return PriceUpdated{Snapshot: newSnapshot(p, EventPriceUpdated, at), NewPrice: p.Price}
}

// ---------------- Dispatch ----------------

// Dispatch es la intención de publicar un evento en una categoría.
// WarehouseID solo aplica a CategoryWarehouse.
type Dispatch struct {
	Category    Category
	Event       Event
	WarehouseID string
}
