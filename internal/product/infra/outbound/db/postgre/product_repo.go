package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"
	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
	sharedDB "github.com/davicafu/productflow/internal/shared/infra/platform/db"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL
)

const productColumns = `id, title, description, price, available_quantity, status, sku, category, brand, created_at, updated_at`

// ProductRepoPostgres implementa ProductStore sobre PostgreSQL.
// Dentro de una UnitOfWork q es la *sql.Tx; fuera, el *sql.DB.
type ProductRepoPostgres struct {
	q sharedDB.Querier
}

var _ productDomain.ProductStore = (*ProductRepoPostgres)(nil)

func NewProductRepoPostgres(db *sql.DB) *ProductRepoPostgres {
	return &ProductRepoPostgres{q: db}
}

// ------------------ Escritura ------------------

func (r *ProductRepoPostgres) Create(ctx context.Context, p *productDomain.Product) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Title, p.Description, p.Price, p.AvailableQuantity, string(p.Status),
		p.SKU, p.Category, p.Brand, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", productDomain.ErrDuplicateSKU, p.SKU)
		}
		return productDomain.StoreError("create", err)
	}
	return nil
}

func (r *ProductRepoPostgres) AtomicDecrement(ctx context.Context, id uuid.UUID, quantity int) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE products
		 SET available_quantity = available_quantity - $2, updated_at = $3
		 WHERE id = $1 AND available_quantity >= $2`,
		id, quantity, time.Now().UTC(),
	)
	if err != nil {
		return 0, productDomain.StoreError("atomic_decrement", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, productDomain.StoreError("atomic_decrement", err)
	}
	return rows, nil
}

func (r *ProductRepoPostgres) Save(ctx context.Context, p *productDomain.Product) error {
	p.UpdatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx,
		`UPDATE products
		 SET title=$2, description=$3, price=$4, available_quantity=$5, status=$6,
		     sku=$7, category=$8, brand=$9, updated_at=$10
		 WHERE id=$1`,
		p.ID, p.Title, p.Description, p.Price, p.AvailableQuantity, string(p.Status),
		p.SKU, p.Category, p.Brand, p.UpdatedAt,
	)
	if err != nil {
		return productDomain.StoreError("save", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", productDomain.ErrProductNotFound, p.ID)
	}
	return nil
}

// ------------------ Lectura ------------------

func (r *ProductRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", productDomain.ErrProductNotFound, id)
		}
		return nil, productDomain.StoreError("get_by_id", err)
	}
	return p, nil
}

func (r *ProductRepoPostgres) GetBySKU(ctx context.Context, sku string) (*productDomain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE sku=$1`, sku)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sku %s", productDomain.ErrProductNotFound, sku)
		}
		return nil, productDomain.StoreError("get_by_sku", err)
	}
	return p, nil
}

func (r *ProductRepoPostgres) FindByIDsStrict(ctx context.Context, ids []uuid.UUID) ([]*productDomain.Product, error) {
	unique := productDomain.UniqueIDs(ids)
	products, err := r.list(ctx, productDomain.IDsCriteria{IDs: unique}, "")
	if err != nil {
		return nil, err
	}
	if err := productDomain.EnsureAllFound(unique, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepoPostgres) ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria) ([]*productDomain.Product, error) {
	return r.list(ctx, criteria, "")
}

// LockForUpdate bloquea las filas en orden de id, así dos bulks solapados no se bloquean mutuamente.
func (r *ProductRepoPostgres) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*productDomain.Product, error) {
	return r.list(ctx, productDomain.IDsCriteria{IDs: ids}, " FOR UPDATE")
}

func (r *ProductRepoPostgres) list(ctx context.Context, criteria sharedDomain.Criteria, suffix string) ([]*productDomain.Product, error) {
	where, args, err := sharedDB.BuildWhere(criteria, productDomain.AllowedCriteriaFields, sharedDB.Dollar, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", productDomain.ErrInvalidRequest, err)
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id" + suffix

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, productDomain.StoreError("list", err)
	}
	defer rows.Close()

	var products []*productDomain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, productDomain.StoreError("list_scan", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, productDomain.StoreError("list", err)
	}
	return products, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(s scanner) (*productDomain.Product, error) {
	var p productDomain.Product
	var status string
	if err := s.Scan(
		&p.ID, &p.Title, &p.Description, &p.Price, &p.AvailableQuantity, &status,
		&p.SKU, &p.Category, &p.Brand, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = productDomain.ProductStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ------------------ Unit of Work ------------------

// UnitOfWorkPostgres abre una transacción READ COMMITTED por operación.
// Los bloqueos de fila (FOR UPDATE y el UPDATE condicional) dan la serialización necesaria.
type UnitOfWorkPostgres struct {
	db *sql.DB
}

var _ productDomain.UnitOfWork = (*UnitOfWorkPostgres)(nil)

func NewUnitOfWorkPostgres(db *sql.DB) *UnitOfWorkPostgres {
	return &UnitOfWorkPostgres{db: db}
}

func (u *UnitOfWorkPostgres) Do(ctx context.Context, fn func(ctx context.Context, store productDomain.ProductStore) error) error {
	err := sharedDB.RunInTx(ctx, u.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		return fn(ctx, &ProductRepoPostgres{q: tx})
	})
	if errors.Is(err, sharedDB.ErrTx) {
		return productDomain.StoreError("tx", err)
	}
	return err
}
