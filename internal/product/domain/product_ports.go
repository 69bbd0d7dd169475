package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrProductNotActive    = errors.New("product is not active")
	ErrProductDiscontinued = errors.New("product is discontinued")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrDuplicateSKU        = errors.New("sku already exists")
	ErrSerialization       = errors.New("event serialization failed")
	ErrStoreUnavailable    = errors.New("product store unavailable")
	ErrEventPublish        = errors.New("event publication failed")
)

// IsValidationError agrupa los errores que se rechazan antes de mutar nada.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductNotActive) ||
		errors.Is(err, ErrProductDiscontinued) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDuplicateSKU)
}

// ---------- Interfaces (Ports) ----------

// ProductStore define las primitivas persistentes para Product.
// Una instancia obtenida dentro de UnitOfWork.Do opera sobre esa transacción.
type ProductStore interface {
	// Debe devolver ErrDuplicateSKU si el SKU ya existe.
	Create(ctx context.Context, p *Product) error

	// Debe devolver ErrProductNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)

	// Debe devolver ErrProductNotFound si no existe.
	GetBySKU(ctx context.Context, sku string) (*Product, error)

	// FindByIDsStrict falla con ErrProductNotFound si falta cualquier id; nunca devuelve resultados parciales.
	FindByIDsStrict(ctx context.Context, ids []uuid.UUID) ([]*Product, error)

	// ListByCriteria es un escaneo completo, sin paginación.
	ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria) ([]*Product, error)

	// LockForUpdate bloquea en exclusiva todas las filas en una sola lectura.
	// Los ids deben llegar deduplicados. Devuelve menos filas solo si faltan ids.
	LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*Product, error)

	// AtomicDecrement descuenta solo si available_quantity >= quantity. Devuelve filas afectadas (0 o 1).
	AtomicDecrement(ctx context.Context, id uuid.UUID, quantity int) (int64, error)

	// Save persiste la fila completa y actualiza UpdatedAt.
	// Debe devolver ErrProductNotFound si no existe.
	Save(ctx context.Context, p *Product) error
}

// UnitOfWork delimita una transacción: commit si fn devuelve nil,
// rollback ante error o panic (el panic se relanza).
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, store ProductStore) error) error
}

// EventRouter traduce una categoría lógica en un destino del broker y publica.
type EventRouter interface {
	Publish(ctx context.Context, d Dispatch) error
}

// ---------- Helpers comunes (cache keys, etc.) ----------

// ProductCacheKeyByID forma una key consistente para cache usando ID.
func ProductCacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("product:id:%s", id.String())
}

// StoreError envuelve un error del driver como ErrStoreUnavailable.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// UniqueIDs elimina duplicados conservando el orden de aparición.
func UniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// EnsureAllFound devuelve ErrProductNotFound con los ids que faltan en found.
func EnsureAllFound(ids []uuid.UUID, found []*Product) error {
	if len(found) == len(ids) {
		return nil
	}
	present := make(map[uuid.UUID]struct{}, len(found))
	for _, p := range found {
		present[p.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	return fmt.Errorf("%w: %s", ErrProductNotFound, strings.Join(missing, ", "))
}
