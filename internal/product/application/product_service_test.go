package application

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davicafu/productflow/internal/config"
	"github.com/davicafu/productflow/internal/infra/messaging"
	productDomain "github.com/davicafu/productflow/internal/product/domain"
	"github.com/davicafu/productflow/internal/product/infra/outbound/db/memory"
	outboundEvents "github.com/davicafu/productflow/internal/product/infra/outbound/events"
	"github.com/davicafu/productflow/internal/product/infra/routing"
	sharedCache "github.com/davicafu/productflow/internal/shared/infra/platform/cache"
	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWarehouse = "BLRA"

type fixture struct {
	service *ProductService
	store   *memory.Store
	broker  *messaging.InMemoryBroker
	cache   *sharedCache.InMemoryCache
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()

	table := routing.NewTable(&config.Config{
		AnalyticsExchange:          "products-analytics",
		WarehouseExchange:          "products-warehouse",
		NotificationTTLExchange:    "products-notification-ttl",
		NotificationUserExchange:   "products-notification-user",
		WarehouseIDs:               []string{testWarehouse, "MAD1"},
		NotificationDelayTTLMillis: delay.Milliseconds(),
	})

	broker := messaging.NewInMemoryBroker(zap.NewNop())
	require.NoError(t, broker.Declare(context.Background(), table.Topology()))
	t.Cleanup(func() { _ = broker.Close() })

	cache := sharedCache.NewInMemoryCache(time.Minute, time.Minute)
	t.Cleanup(cache.Stop)

	store := memory.NewStore()
	router := outboundEvents.NewRouter(broker, table, zap.NewNop())
	service := NewProductService(store, store, router, cache,
		ServiceConfig{DefaultWarehouseID: testWarehouse, CacheTTL: time.Minute}, zap.NewNop())

	return &fixture{service: service, store: store, broker: broker, cache: cache}
}

func (f *fixture) create(t *testing.T, sku string, qty int) *productDomain.Product {
	t.Helper()
	p, err := f.service.CreateProduct(context.Background(), CreateProductInput{
		Title:             "Producto " + sku,
		Price:             decimal.RequireFromString("10.00"),
		AvailableQuantity: qty,
		SKU:               sku,
		Category:          "toys",
		Brand:             "acme",
	})
	require.NoError(t, err)
	return p
}

// drain consume exactamente los mensajes pendientes de una cola.
func drain(t *testing.T, b *messaging.InMemoryBroker, queue string) []sharedBus.Message {
	t.Helper()
	n := b.Depth(queue)
	if n == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		out []sharedBus.Message
	)
	_ = b.Consume(ctx, queue, func(_ context.Context, m sharedBus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, m)
		if len(out) == n {
			cancel()
		}
		return nil
	})
	require.Len(t, out, n)
	return out
}

func eventTypes(t *testing.T, msgs []sharedBus.Message) []productDomain.EventType {
	t.Helper()
	types := make([]productDomain.EventType, 0, len(msgs))
	for _, m := range msgs {
		evt, err := productDomain.DecodeEvent(m.Body)
		require.NoError(t, err)
		types = append(types, evt.EventType())
	}
	return types
}

// -------------------- Alta y lecturas --------------------

func TestCreateProduct_Success(t *testing.T) {
	f := newFixture(t, time.Minute)

	p := f.create(t, "X1", 5)

	assert.Equal(t, productDomain.StatusActive, p.Status)
	assert.Equal(t, 5, p.AvailableQuantity)
	assert.Equal(t, 1, f.store.Len())

	msgs := drain(t, f.broker, routing.AnalyticsQueue)
	assert.Equal(t, []productDomain.EventType{productDomain.EventProductCreated}, eventTypes(t, msgs))
}

func TestCreateProduct_ZeroQuantityStaysActive(t *testing.T) {
	f := newFixture(t, time.Minute)

	p := f.create(t, "ZERO", 0)

	assert.Equal(t, productDomain.StatusActive, p.Status)
}

func TestCreateProduct_Validation(t *testing.T) {
	f := newFixture(t, time.Minute)

	tests := []struct {
		name string
		in   CreateProductInput
	}{
		{name: "sin título", in: CreateProductInput{SKU: "A", Price: decimal.NewFromInt(1)}},
		{name: "sin sku", in: CreateProductInput{Title: "t", Price: decimal.NewFromInt(1)}},
		{name: "precio negativo", in: CreateProductInput{Title: "t", SKU: "A", Price: decimal.NewFromInt(-1)}},
		{name: "cantidad negativa", in: CreateProductInput{Title: "t", SKU: "A", AvailableQuantity: -1}},
		{name: "cantidad sobre el tope", in: CreateProductInput{Title: "t", SKU: "A", AvailableQuantity: productDomain.MaxQuantity + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateProduct(context.Background(), tt.in)
			assert.ErrorIs(t, err, productDomain.ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.broker.Depth(routing.AnalyticsQueue))
}

func TestCreateProduct_DuplicateSKU(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.create(t, "DUP", 1)

	_, err := f.service.CreateProduct(context.Background(), CreateProductInput{Title: "otro", SKU: "DUP"})

	assert.ErrorIs(t, err, productDomain.ErrDuplicateSKU)
	assert.Equal(t, 1, f.store.Len())
}

func TestGetProduct_NotFound(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.service.GetProduct(context.Background(), uuid.New())

	assert.ErrorIs(t, err, productDomain.ErrProductNotFound)
}

func TestGetProduct_CacheHit(t *testing.T) {
	f := newFixture(t, time.Minute)
	id := uuid.New()
	cached := &productDomain.Product{ID: id, Title: "Solo en caché", Status: productDomain.StatusActive}
	require.NoError(t, f.cache.Set(context.Background(), productDomain.ProductCacheKeyByID(id), cached, 0))

	got, err := f.service.GetProduct(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, "Solo en caché", got.Title)
}

func TestGetProduct_MutationEvictsCache(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "EV", 5)
	key := productDomain.ProductCacheKeyByID(p.ID)

	stale := p.Clone()
	stale.AvailableQuantity = 99
	require.NoError(t, f.cache.Set(context.Background(), key, stale, 0))

	require.NoError(t, f.service.ReduceQuantity(context.Background(), p.ID, 2))

	var dest productDomain.Product
	hit, err := f.cache.Get(context.Background(), key, &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	got, err := f.service.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableQuantity)
}

// gatedCache retiene la primera escritura hasta que se cierra release.
type gatedCache struct {
	*sharedCache.InMemoryCache
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.InMemoryCache.Set(ctx, key, val, ttl)
}

type nopRouter struct{}

func (nopRouter) Publish(context.Context, productDomain.Dispatch) error { return nil }

func TestGetProduct_StaleFillLosesToConcurrentMutation(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "RACE", 5)
	key := productDomain.ProductCacheKeyByID(p.ID)

	cache := &gatedCache{InMemoryCache: f.cache, entered: make(chan struct{}), release: make(chan struct{})}
	service := NewProductService(f.store, f.store, nopRouter{}, cache,
		ServiceConfig{DefaultWarehouseID: testWarehouse, CacheTTL: time.Minute}, zap.NewNop())

	got, err := service.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableQuantity)
	<-cache.entered

	// La mutación confirma e invalida mientras el relleno con la lectura antigua sigue pendiente.
	require.NoError(t, service.ReduceQuantity(context.Background(), p.ID, 2))
	close(cache.release)

	assert.Eventually(t, func() bool {
		var cached productDomain.Product
		hit, err := f.cache.Get(context.Background(), key, &cached)
		return err == nil && (!hit || cached.AvailableQuantity == 3)
	}, time.Second, 5*time.Millisecond)

	got, err = service.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableQuantity)
}

func TestGetProductsByIDsStrict(t *testing.T) {
	f := newFixture(t, time.Minute)
	a := f.create(t, "A", 1)
	b := f.create(t, "B", 1)

	got, err := f.service.GetProductsByIDsStrict(context.Background(), []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = f.service.GetProductsByIDsStrict(context.Background(), []uuid.UUID{a.ID, uuid.New()})
	assert.ErrorIs(t, err, productDomain.ErrProductNotFound)

	_, err = f.service.GetProductsByIDsStrict(context.Background(), nil)
	assert.ErrorIs(t, err, productDomain.ErrInvalidRequest)
}

func TestListByStatusAndCategory(t *testing.T) {
	f := newFixture(t, time.Minute)
	a := f.create(t, "A", 1)
	f.create(t, "B", 1)
	_, err := f.service.DeactivateProduct(context.Background(), a.ID)
	require.NoError(t, err)

	inactive, err := f.service.ListByStatus(context.Background(), productDomain.StatusInactive)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, a.ID, inactive[0].ID)

	toys, err := f.service.ListByCategory(context.Background(), "toys")
	require.NoError(t, err)
	assert.Len(t, toys, 2)

	_, err = f.service.ListByStatus(context.Background(), "BROKEN")
	assert.ErrorIs(t, err, productDomain.ErrInvalidRequest)
}

// -------------------- Reducción --------------------

func TestReduceQuantity_ToZeroEmitsWarehouseEvent(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "X1", 5)
	drain(t, f.broker, routing.AnalyticsQueue)

	require.NoError(t, f.service.ReduceQuantity(context.Background(), p.ID, 5))

	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)
	assert.Equal(t, productDomain.StatusOutOfStock, got.Status)

	analytics := drain(t, f.broker, routing.AnalyticsQueue)
	assert.Equal(t, []productDomain.EventType{productDomain.EventInventoryReduced}, eventTypes(t, analytics))

	warehouse := drain(t, f.broker, routing.WarehouseKey(testWarehouse))
	require.Len(t, warehouse, 1)
	evt, err := productDomain.DecodeEvent(warehouse[0].Body)
	require.NoError(t, err)
	oos, ok := evt.(productDomain.OutOfStock)
	require.True(t, ok)
	assert.Equal(t, 5, oos.QuantityReduced)
	assert.Equal(t, productDomain.StatusOutOfStock, oos.Status)

	assert.Equal(t, 0, f.broker.Depth(routing.WarehouseKey("MAD1")))
}

func TestReduceQuantity_PartialDoesNotTouchWarehouse(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "X2", 5)

	require.NoError(t, f.service.ReduceQuantity(context.Background(), p.ID, 2))

	assert.Equal(t, 0, f.broker.Depth(routing.WarehouseKey(testWarehouse)))
	assert.Equal(t, 2, f.broker.Depth(routing.AnalyticsQueue))
}

func TestReduceQuantity_Rejections(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "R", 3)
	inactive := f.create(t, "RI", 3)
	_, err := f.service.DeactivateProduct(context.Background(), inactive.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      uuid.UUID
		qty     int
		wantErr error
	}{
		{name: "cantidad cero", id: p.ID, qty: 0, wantErr: productDomain.ErrInvalidRequest},
		{name: "no existe", id: uuid.New(), qty: 1, wantErr: productDomain.ErrProductNotFound},
		{name: "stock insuficiente", id: p.ID, qty: 4, wantErr: productDomain.ErrInsufficientStock},
		{name: "inactivo", id: inactive.ID, qty: 1, wantErr: productDomain.ErrProductNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.ReduceQuantity(context.Background(), tt.id, tt.qty)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableQuantity)
}

func TestReduceQuantity_ConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "HOT", 10)

	const workers = 30
	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.service.ReduceQuantity(context.Background(), p.ID, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, productDomain.ErrInsufficientStock), errors.Is(err, productDomain.ErrProductNotActive):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, succeeded)
	assert.EqualValues(t, workers-10, rejected)

	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)
	assert.Equal(t, productDomain.StatusOutOfStock, got.Status)
	assert.Equal(t, 1, f.broker.Depth(routing.WarehouseKey(testWarehouse)))
}

// -------------------- Lote --------------------

func TestReduceQuantitiesBulk_Success(t *testing.T) {
	f := newFixture(t, time.Minute)
	a := f.create(t, "A", 5)
	b := f.create(t, "B", 2)
	drain(t, f.broker, routing.AnalyticsQueue)

	res, err := f.service.ReduceQuantitiesBulk(context.Background(), []ReductionItem{
		{ProductID: a.ID, Quantity: 1},
		{ProductID: b.ID, Quantity: 2},
	})

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, res.ProcessedProductIDs)
	assert.False(t, res.ProcessedAt.IsZero())

	analytics := drain(t, f.broker, routing.AnalyticsQueue)
	require.Len(t, analytics, 2)
	for i, want := range []uuid.UUID{a.ID, b.ID} {
		evt, err := productDomain.DecodeEvent(analytics[i].Body)
		require.NoError(t, err)
		assert.Equal(t, want, evt.Base().ProductID)
	}
	assert.Equal(t, 1, f.broker.Depth(routing.WarehouseKey(testWarehouse)))
}

func TestReduceQuantitiesBulk_AllOrNothing(t *testing.T) {
	f := newFixture(t, time.Minute)
	a := f.create(t, "A", 5)
	b := f.create(t, "B", 1)
	drain(t, f.broker, routing.AnalyticsQueue)

	tests := []struct {
		name    string
		items   []ReductionItem
		wantErr error
	}{
		{
			name:    "un item sin stock",
			items:   []ReductionItem{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 2}},
			wantErr: productDomain.ErrInsufficientStock,
		},
		{
			name:    "un id inexistente",
			items:   []ReductionItem{{ProductID: a.ID, Quantity: 1}, {ProductID: uuid.New(), Quantity: 1}},
			wantErr: productDomain.ErrProductNotFound,
		},
		{
			name:    "ids duplicados",
			items:   []ReductionItem{{ProductID: a.ID, Quantity: 1}, {ProductID: a.ID, Quantity: 1}},
			wantErr: productDomain.ErrInvalidRequest,
		},
		{
			name:    "cantidad no positiva",
			items:   []ReductionItem{{ProductID: a.ID, Quantity: 0}},
			wantErr: productDomain.ErrInvalidRequest,
		},
		{
			name:    "vacío",
			items:   nil,
			wantErr: productDomain.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.service.ReduceQuantitiesBulk(context.Background(), tt.items)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}

	gotA, _ := f.store.GetByID(context.Background(), a.ID)
	gotB, _ := f.store.GetByID(context.Background(), b.ID)
	assert.Equal(t, 5, gotA.AvailableQuantity)
	assert.Equal(t, 1, gotB.AvailableQuantity)
	assert.Equal(t, 0, f.broker.Depth(routing.AnalyticsQueue))
}

// -------------------- Incremento y estados --------------------

func TestIncreaseQuantity_BackInStockAfterDelay(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	p := f.create(t, "X1", 5)
	require.NoError(t, f.service.ReduceQuantity(context.Background(), p.ID, 5))

	require.NoError(t, f.service.IncreaseQuantity(context.Background(), p.ID, 3))

	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableQuantity)
	assert.Equal(t, productDomain.StatusActive, got.Status)

	// Antes del TTL el evento espera en la cola de retardo.
	assert.Equal(t, 1, f.broker.Depth(routing.DelayQueue))
	assert.Equal(t, 0, f.broker.Depth(routing.UserNotificationQueue))

	assert.Eventually(t, func() bool {
		return f.broker.Depth(routing.UserNotificationQueue) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.broker.Depth(routing.DelayQueue))

	msgs := drain(t, f.broker, routing.UserNotificationQueue)
	evt, err := productDomain.DecodeEvent(msgs[0].Body)
	require.NoError(t, err)
	back, ok := evt.(productDomain.BackInStock)
	require.True(t, ok)
	assert.Equal(t, 3, back.QuantityAdded)
}

func TestIncreaseQuantity_ActiveDoesNotNotify(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "X1", 5)

	require.NoError(t, f.service.IncreaseQuantity(context.Background(), p.ID, 3))

	assert.Equal(t, 0, f.broker.Depth(routing.DelayQueue))
	got, _ := f.store.GetByID(context.Background(), p.ID)
	assert.Equal(t, 8, got.AvailableQuantity)
}

func TestIncreaseQuantity_Rejections(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "X1", 5)
	discontinued := p.Clone()
	discontinued.Status = productDomain.StatusDiscontinued
	require.NoError(t, f.store.Save(context.Background(), discontinued))

	assert.ErrorIs(t, f.service.IncreaseQuantity(context.Background(), p.ID, 1), productDomain.ErrProductDiscontinued)
	assert.ErrorIs(t, f.service.IncreaseQuantity(context.Background(), p.ID, 0), productDomain.ErrInvalidRequest)
	assert.ErrorIs(t, f.service.IncreaseQuantity(context.Background(), uuid.New(), 1), productDomain.ErrProductNotFound)
}

func TestIncreaseQuantity_NeverOverflows(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "BIG", 1)
	drain(t, f.broker, routing.AnalyticsQueue)

	for _, qty := range []int{math.MaxInt, productDomain.MaxQuantity} {
		err := f.service.IncreaseQuantity(context.Background(), p.ID, qty)
		assert.ErrorIs(t, err, productDomain.ErrInvalidRequest)
		assert.True(t, productDomain.IsValidationError(err))
	}

	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableQuantity)
	assert.Equal(t, productDomain.StatusActive, got.Status)
	assert.Equal(t, 0, f.broker.Depth(routing.AnalyticsQueue))

	require.NoError(t, f.service.IncreaseQuantity(context.Background(), p.ID, productDomain.MaxQuantity-1))
	got, err = f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, productDomain.MaxQuantity, got.AvailableQuantity)
}

func TestActivateDeactivate(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "S", 5)
	drain(t, f.broker, routing.AnalyticsQueue)

	got, err := f.service.DeactivateProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, productDomain.StatusInactive, got.Status)

	got, err = f.service.ActivateProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, productDomain.StatusActive, got.Status)

	msgs := drain(t, f.broker, routing.AnalyticsQueue)
	assert.Equal(t, []productDomain.EventType{
		productDomain.EventProductDeactivated,
		productDomain.EventProductActivated,
	}, eventTypes(t, msgs))

	_, err = f.service.ActivateProduct(context.Background(), uuid.New())
	assert.ErrorIs(t, err, productDomain.ErrProductNotFound)
}

func TestUpdatePrice(t *testing.T) {
	f := newFixture(t, time.Minute)
	p := f.create(t, "P", 5)
	drain(t, f.broker, routing.AnalyticsQueue)

	got, err := f.service.UpdatePrice(context.Background(), p.ID, decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.50")))

	msgs := drain(t, f.broker, routing.AnalyticsQueue)
	require.Len(t, msgs, 1)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Body, &body))
	assert.Equal(t, "PRICE_UPDATED", body["eventType"])
	assert.EqualValues(t, 12.5, body["newPrice"])
	assert.Contains(t, string(msgs[0].Body), `"newPrice":12.50`)

	for _, price := range []string{"-1.00", "0"} {
		_, err = f.service.UpdatePrice(context.Background(), p.ID, decimal.RequireFromString(price))
		assert.ErrorIs(t, err, productDomain.ErrInvalidRequest, price)
	}
	current, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, current.Price.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, 0, f.broker.Depth(routing.AnalyticsQueue))

	_, err = f.service.UpdatePrice(context.Background(), uuid.New(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, productDomain.ErrProductNotFound)
}

// -------------------- Fallos de publicación --------------------

type failingRouter struct{ calls int32 }

func (r *failingRouter) Publish(context.Context, productDomain.Dispatch) error {
	atomic.AddInt32(&r.calls, 1)
	return errors.New("broker down")
}

func TestPublishFailure_PersistenceStaysCommitted(t *testing.T) {
	store := memory.NewStore()
	router := &failingRouter{}
	service := NewProductService(store, store, router, nil,
		ServiceConfig{DefaultWarehouseID: testWarehouse}, zap.NewNop())

	p, err := service.CreateProduct(context.Background(), CreateProductInput{Title: "t", SKU: "F", AvailableQuantity: 2})
	assert.ErrorIs(t, err, productDomain.ErrEventPublish)
	require.NotNil(t, p)

	err = service.ReduceQuantity(context.Background(), p.ID, 2)
	assert.ErrorIs(t, err, productDomain.ErrEventPublish)
	assert.False(t, productDomain.IsValidationError(err))

	got, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)
	assert.Equal(t, productDomain.StatusOutOfStock, got.Status)

	// Alta + (reducción, agotado): todos se intentan aunque fallen.
	assert.EqualValues(t, 3, atomic.LoadInt32(&router.calls))
}
