package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davicafu/productflow/internal/product/domain"
	"github.com/davicafu/productflow/internal/product/infra/outbound/db/migrations"
	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRepo(t *testing.T) (*ProductRepoSQLite, *UnitOfWorkSQLite) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.db")
	require.NoError(t, migrations.Up("sqlite", DSN(path), zap.NewNop()))

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewProductRepoSQLite(db), NewUnitOfWorkSQLite(db)
}

func newProduct(sku string, qty int) *domain.Product {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Product{
		ID:                uuid.New(),
		Title:             "Producto " + sku,
		Price:             decimal.RequireFromString("12.30"),
		AvailableQuantity: qty,
		Status:            domain.StatusActive,
		SKU:               sku,
		Category:          "books",
		Brand:             "acme",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestProductRepoSQLite_CreateAndGet(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	p := newProduct("SKU-1", 5)

	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "SKU-1", got.SKU)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Millisecond)

	bySKU, err := repo.GetBySKU(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySKU.ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductRepoSQLite_DuplicateSKU(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newProduct("DUP", 1)))
	err := repo.Create(ctx, newProduct("DUP", 1))
	assert.ErrorIs(t, err, domain.ErrDuplicateSKU)
}

func TestProductRepoSQLite_AtomicDecrementIsConditional(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	p := newProduct("SKU-2", 3)
	require.NoError(t, repo.Create(ctx, p))

	rows, err := repo.AtomicDecrement(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows)

	rows, err = repo.AtomicDecrement(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)

	got, _ := repo.GetByID(ctx, p.ID)
	assert.Equal(t, 0, got.AvailableQuantity)
}

func TestProductRepoSQLite_SaveAndList(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	a, b := newProduct("A", 1), newProduct("B", 1)
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	b.Deactivate()
	require.NoError(t, repo.Save(ctx, b))

	active, err := repo.ListByCriteria(ctx, domain.StatusCriteria{Status: domain.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	books, err := repo.ListByCriteria(ctx, sharedDomain.And(
		domain.CategoryCriteria{Category: "books"},
		domain.StatusCriteria{Status: domain.StatusInactive},
	))
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, b.ID, books[0].ID)

	assert.ErrorIs(t, repo.Save(ctx, newProduct("GHOST", 1)), domain.ErrProductNotFound)
}

func TestProductRepoSQLite_FindByIDsStrict(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	a, b := newProduct("A", 1), newProduct("B", 1)
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	found, err := repo.FindByIDsStrict(ctx, []uuid.UUID{a.ID, b.ID, a.ID})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = repo.FindByIDsStrict(ctx, []uuid.UUID{a.ID, uuid.New()})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestUnitOfWorkSQLite_RollbackOnErrorAndPanic(t *testing.T) {
	repo, uow := setupRepo(t)
	ctx := context.Background()
	p := newProduct("TX", 10)
	require.NoError(t, repo.Create(ctx, p))

	boom := errors.New("boom")
	err := uow.Do(ctx, func(ctx context.Context, store domain.ProductStore) error {
		_, err := store.AtomicDecrement(ctx, p.ID, 4)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = uow.Do(ctx, func(ctx context.Context, store domain.ProductStore) error {
			_, _ = store.AtomicDecrement(ctx, p.ID, 4)
			panic("kaboom")
		})
	})

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AvailableQuantity, "ningún cambio debe haber persistido")
}

func TestUnitOfWorkSQLite_ConcurrentDecrementsNeverOversell(t *testing.T) {
	repo, uow := setupRepo(t)
	ctx := context.Background()
	p := newProduct("HOT", 10)
	require.NoError(t, repo.Create(ctx, p))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := uow.Do(ctx, func(ctx context.Context, store domain.ProductStore) error {
				rows, err := store.AtomicDecrement(ctx, p.ID, 1)
				if err != nil {
					return err
				}
				if rows == 0 {
					return domain.ErrInsufficientStock
				}
				return nil
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0, got.AvailableQuantity)
}
