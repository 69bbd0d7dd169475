package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"
	sharedCache "github.com/davicafu/productflow/internal/shared/infra/platform/cache"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateProductInput son los datos de alta de un producto.
type CreateProductInput struct {
	Title             string
	Description       string
	Price             decimal.Decimal
	AvailableQuantity int
	SKU               string
	Category          string
	Brand             string
}

// ReductionItem es una línea de una reducción en lote.
type ReductionItem struct {
	ProductID uuid.UUID
	Quantity  int
}

type BulkReductionResult struct {
	ProcessedProductIDs []uuid.UUID
	ProcessedAt         time.Time
}

// ServiceConfig agrupa los parámetros del motor que vienen de configuración.
type ServiceConfig struct {
	DefaultWarehouseID string
	CacheTTL           time.Duration
}

// ProductService es el motor de inventario: valida invariantes, muta dentro de una
// UnitOfWork y publica los eventos resultantes después del commit.
type ProductService struct {
	store  productDomain.ProductStore
	uow    productDomain.UnitOfWork
	router productDomain.EventRouter
	cache  sharedCache.Cache
	cfg    ServiceConfig
	log    *zap.Logger
	now    func() time.Time

	// gens cuenta invalidaciones por producto; un relleno de caché solo sobrevive si no cambió.
	genMu sync.Mutex
	gens  map[uuid.UUID]uint64
}

func NewProductService(
	store productDomain.ProductStore,
	uow productDomain.UnitOfWork,
	router productDomain.EventRouter,
	cache sharedCache.Cache,
	cfg ServiceConfig,
	log *zap.Logger,
) *ProductService {
	return &ProductService{
		store:  store,
		uow:    uow,
		router: router,
		cache:  cache,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		gens:   make(map[uuid.UUID]uint64),
	}
}

// ---------------- Alta ----------------

func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (*productDomain.Product, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	product := &productDomain.Product{
		ID:                uuid.New(),
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		Price:             in.Price,
		AvailableQuantity: in.AvailableQuantity,
		Status:            productDomain.StatusActive,
		SKU:               strings.TrimSpace(in.SKU),
		Category:          in.Category,
		Brand:             in.Brand,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	var dispatches []productDomain.Dispatch
	err := s.uow.Do(ctx, func(ctx context.Context, store productDomain.ProductStore) error {
		if err := store.Create(ctx, product); err != nil {
			return err
		}
		dispatches = []productDomain.Dispatch{
			productDomain.DispatchFor(productDomain.NewProductCreated(product, now), ""),
		}
		return nil
	})
	if err != nil {
		s.logFailure("create", uuid.Nil, err)
		return nil, err
	}

	s.log.Info("✅ Producto creado", zap.String("product_id", product.ID.String()), zap.String("sku", product.SKU))

	return product, s.publishAll(ctx, dispatches)
}

func validateCreate(in CreateProductInput) error {
	var problems []string
	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(in.SKU) == "" {
		problems = append(problems, "sku is required")
	}
	if in.Price.IsNegative() {
		problems = append(problems, "price must not be negative")
	}
	if in.AvailableQuantity < 0 {
		problems = append(problems, "availableQuantity must not be negative")
	}
	if in.AvailableQuantity > productDomain.MaxQuantity {
		problems = append(problems, fmt.Sprintf("availableQuantity must not exceed %d", productDomain.MaxQuantity))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", productDomain.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// ---------------- Lecturas ----------------

// GetProduct usa cache-aside: caché primero, store en un miss y relleno asíncrono.
// El relleno se descarta si el producto se invalidó después de empezar la lectura.
func (s *ProductService) GetProduct(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	key := productDomain.ProductCacheKeyByID(id)
	if s.cache != nil {
		var cached productDomain.Product
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.log.Warn("⚠️ Cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	gen := s.generation(id)
	product, err := s.store.GetByID(ctx, id)
	if err != nil {
		s.logFailure("get", id, err)
		return nil, err
	}

	sharedCache.AsyncCacheSetIf(s.cache, key, product, s.cfg.CacheTTL,
		func() bool { return s.generation(id) == gen }, s.log)
	return product, nil
}

// GetProductsByIDsStrict falla entero si falta cualquier id.
func (s *ProductService) GetProductsByIDsStrict(ctx context.Context, ids []uuid.UUID) ([]*productDomain.Product, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one product id is required", productDomain.ErrInvalidRequest)
	}
	return s.store.FindByIDsStrict(ctx, ids)
}

func (s *ProductService) ListByStatus(ctx context.Context, status productDomain.ProductStatus) ([]*productDomain.Product, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", productDomain.ErrInvalidRequest, status)
	}
	return s.store.ListByCriteria(ctx, productDomain.StatusCriteria{Status: status})
}

func (s *ProductService) ListByCategory(ctx context.Context, category string) ([]*productDomain.Product, error) {
	return s.store.ListByCriteria(ctx, productDomain.CategoryCriteria{Category: category})
}

// ---------------- Inventario ----------------

// ReduceQuantity descuenta con un UPDATE condicional: dos reducciones concurrentes nunca sobrevenden.
func (s *ProductService) ReduceQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", productDomain.ErrInvalidRequest)
	}

	var dispatches []productDomain.Dispatch
	err := s.uow.Do(ctx, func(ctx context.Context, store productDomain.ProductStore) error {
		dispatches = nil

		product, err := store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := product.CheckReducible(quantity); err != nil {
			return err
		}

		rows, err := store.AtomicDecrement(ctx, id, quantity)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: product %s, requested %d", productDomain.ErrInsufficientStock, id, quantity)
		}

		// Relectura con la fila ya bloqueada por el UPDATE.
		product, err = store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if product.Status != productDomain.StatusActive {
			return fmt.Errorf("%w: %s", productDomain.ErrProductNotActive, id)
		}

		outOfStock := product.MarkOutOfStockIfEmpty()
		if outOfStock {
			if err := store.Save(ctx, product); err != nil {
				return err
			}
		}
		dispatches = s.reductionDispatches(product, quantity, outOfStock)
		return nil
	})
	if err != nil {
		s.logFailure("reduce", id, err)
		return err
	}

	s.log.Info("📉 Inventario reducido", zap.String("product_id", id.String()), zap.Int("quantity", quantity))
	s.evict(ctx, id)
	return s.publishAll(ctx, dispatches)
}

// ReduceQuantitiesBulk es todo o nada: bloquea todas las filas en una lectura, valida todas
// las líneas y solo entonces muta, en el orden de la petición.
func (s *ProductService) ReduceQuantitiesBulk(ctx context.Context, items []ReductionItem) (*BulkReductionResult, error) {
	ids, err := validateBulk(items)
	if err != nil {
		return nil, err
	}

	var dispatches []productDomain.Dispatch
	err = s.uow.Do(ctx, func(ctx context.Context, store productDomain.ProductStore) error {
		dispatches = nil

		locked, err := store.LockForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		if err := productDomain.EnsureAllFound(ids, locked); err != nil {
			return err
		}

		byID := make(map[uuid.UUID]*productDomain.Product, len(locked))
		for _, p := range locked {
			byID[p.ID] = p
		}

		for _, item := range items {
			if err := byID[item.ProductID].CheckReducible(item.Quantity); err != nil {
				return err
			}
		}

		for _, item := range items {
			product := byID[item.ProductID]
			outOfStock := product.Reduce(item.Quantity)
			if err := store.Save(ctx, product); err != nil {
				return err
			}
			dispatches = append(dispatches, s.reductionDispatches(product, item.Quantity, outOfStock)...)
		}
		return nil
	})
	if err != nil {
		s.logFailure("bulk_reduce", uuid.Nil, err)
		return nil, err
	}

	result := &BulkReductionResult{ProcessedProductIDs: ids, ProcessedAt: s.now()}
	s.log.Info("📦 Reducción en lote completada", zap.Int("items", len(ids)))
	for _, id := range ids {
		s.evict(ctx, id)
	}
	return result, s.publishAll(ctx, dispatches)
}

func validateBulk(items []ReductionItem) ([]uuid.UUID, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", productDomain.ErrInvalidRequest)
	}
	ids := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, fmt.Errorf("%w: items[%d]: productId is required", productDomain.ErrInvalidRequest, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d]: quantity must be positive", productDomain.ErrInvalidRequest, i)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: items[%d]: duplicate productId %s", productDomain.ErrInvalidRequest, i, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids, nil
}

func (s *ProductService) reductionDispatches(p *productDomain.Product, quantity int, outOfStock bool) []productDomain.Dispatch {
	reduced := productDomain.NewInventoryReduced(p, quantity, s.now())
	dispatches := []productDomain.Dispatch{productDomain.DispatchFor(reduced, "")}
	if outOfStock {
		dispatches = append(dispatches, productDomain.DispatchFor(productDomain.OutOfStockFrom(reduced), s.cfg.DefaultWarehouseID))
	}
	return dispatches
}

// IncreaseQuantity admite cualquier estado salvo DISCONTINUED. Desde OUT_OF_STOCK vuelve a ACTIVE
// y programa la notificación retardada.
func (s *ProductService) IncreaseQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", productDomain.ErrInvalidRequest)
	}

	_, err := s.mutate(ctx, "increase", id, func(p *productDomain.Product, at time.Time) ([]productDomain.Event, error) {
		if err := p.CheckIncreasable(quantity); err != nil {
			return nil, err
		}
		backInStock := p.Increase(quantity)
		increased := productDomain.NewInventoryIncreased(p, quantity, at)
		events := []productDomain.Event{increased}
		if backInStock {
			events = append(events, productDomain.BackInStockFrom(increased))
		}
		return events, nil
	})
	return err
}

func (s *ProductService) ActivateProduct(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	return s.mutate(ctx, "activate", id, func(p *productDomain.Product, at time.Time) ([]productDomain.Event, error) {
		p.Activate()
		return []productDomain.Event{productDomain.NewProductActivated(p, at)}, nil
	})
}

func (s *ProductService) DeactivateProduct(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	return s.mutate(ctx, "deactivate", id, func(p *productDomain.Product, at time.Time) ([]productDomain.Event, error) {
		p.Deactivate()
		return []productDomain.Event{productDomain.NewProductDeactivated(p, at)}, nil
	})
}

// UpdatePrice rechaza precios no positivos antes de leer nada.
func (s *ProductService) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*productDomain.Product, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", productDomain.ErrInvalidRequest)
	}
	return s.mutate(ctx, "update_price", id, func(p *productDomain.Product, at time.Time) ([]productDomain.Event, error) {
		if err := p.ChangePrice(price); err != nil {
			return nil, err
		}
		return []productDomain.Event{productDomain.NewPriceUpdated(p, at)}, nil
	})
}

// mutate es el esqueleto lectura-bloqueo-modificación-guardado de una sola fila.
func (s *ProductService) mutate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	apply func(p *productDomain.Product, at time.Time) ([]productDomain.Event, error),
) (*productDomain.Product, error) {
	var (
		product    *productDomain.Product
		dispatches []productDomain.Dispatch
	)
	err := s.uow.Do(ctx, func(ctx context.Context, store productDomain.ProductStore) error {
		dispatches = nil

		locked, err := store.LockForUpdate(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return fmt.Errorf("%w: %s", productDomain.ErrProductNotFound, id)
		}
		product = locked[0]

		events, err := apply(product, s.now())
		if err != nil {
			return err
		}
		if err := store.Save(ctx, product); err != nil {
			return err
		}
		for _, evt := range events {
			dispatches = append(dispatches, productDomain.DispatchFor(evt, s.cfg.DefaultWarehouseID))
		}
		return nil
	})
	if err != nil {
		s.logFailure(op, id, err)
		return nil, err
	}

	s.log.Info("✅ Producto actualizado", zap.String("op", op), zap.String("product_id", id.String()))
	s.evict(ctx, id)
	return product, s.publishAll(ctx, dispatches)
}

// ---------------- Publicación y soporte ----------------

// publishAll publica tras el commit, en orden. Un fallo no detiene el resto: se devuelven
// todos unidos bajo ErrEventPublish y la persistencia queda confirmada.
func (s *ProductService) publishAll(ctx context.Context, dispatches []productDomain.Dispatch) error {
	// El commit ya ocurrió: la cancelación del cliente no debe perder eventos.
	pubCtx := context.WithoutCancel(ctx)

	var errs []error
	for _, d := range dispatches {
		if err := s.router.Publish(pubCtx, d); err != nil {
			s.log.Error("❌ Evento no publicado tras commit",
				zap.String("event_type", string(d.Event.EventType())),
				zap.String("category", string(d.Category)),
				zap.String("product_id", d.Event.Base().ProductID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{productDomain.ErrEventPublish}, errs...)...)
}

// evict incrementa la generación antes de borrar la key.
func (s *ProductService) evict(ctx context.Context, id uuid.UUID) {
	s.genMu.Lock()
	s.gens[id]++
	s.genMu.Unlock()

	sharedCache.Evict(ctx, s.cache, productDomain.ProductCacheKeyByID(id), s.log)
}

func (s *ProductService) generation(id uuid.UUID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[id]
}

func (s *ProductService) logFailure(op string, id uuid.UUID, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if id != uuid.Nil {
		fields = append(fields, zap.String("product_id", id.String()))
	}
	if productDomain.IsValidationError(err) {
		s.log.Warn("Operación rechazada", fields...)
		return
	}
	s.log.Error("Operación fallida", fields...)
}
