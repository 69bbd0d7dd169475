package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"
	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
	sharedDB "github.com/davicafu/productflow/internal/shared/infra/platform/db"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite" // _ "github.com/mattn/go-sqlite3" rinde mejor pero requiere gcc
	sqlite3 "modernc.org/sqlite/lib"
)

const productColumns = `id, title, description, price, available_quantity, status, sku, category, brand, created_at, updated_at`

// DSN construye la cadena de conexión para modernc.org/sqlite.
// _txlock=immediate hace que cada BEGIN tome el lock de escritura de la base:
// es el equivalente en SQLite al bloqueo de filas de Postgres.
func DSN(path string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

// Open abre la base SQLite con el DSN de DSN(path).
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type ProductRepoSQLite struct {
	q sharedDB.Querier
}

var _ productDomain.ProductStore = (*ProductRepoSQLite)(nil)

func NewProductRepoSQLite(db *sql.DB) *ProductRepoSQLite {
	return &ProductRepoSQLite{q: db}
}

// ------------------ Escritura ------------------

func (r *ProductRepoSQLite) Create(ctx context.Context, p *productDomain.Product) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID.String(), p.Title, p.Description, p.Price.String(), p.AvailableQuantity, string(p.Status),
		p.SKU, p.Category, p.Brand, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", productDomain.ErrDuplicateSKU, p.SKU)
		}
		return productDomain.StoreError("create", err)
	}
	return nil
}

func (r *ProductRepoSQLite) AtomicDecrement(ctx context.Context, id uuid.UUID, quantity int) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE products
		 SET available_quantity = available_quantity - ?, updated_at = ?
		 WHERE id = ? AND available_quantity >= ?`,
		quantity, time.Now().UTC(), id.String(), quantity,
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

func (r *ProductRepoSQLite) Save(ctx context.Context, p *productDomain.Product) error {
	p.UpdatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx,
		`UPDATE products
		 SET title=?, description=?, price=?, available_quantity=?, status=?, sku=?, category=?, brand=?, updated_at=?
		 WHERE id=?`,
		p.Title, p.Description, p.Price.String(), p.AvailableQuantity, string(p.Status),
		p.SKU, p.Category, p.Brand, p.UpdatedAt, p.ID.String(),
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

func (r *ProductRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=?`, id.String())
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", productDomain.ErrProductNotFound, id)
		}
		return nil, productDomain.StoreError("get_by_id", err)
	}
	return p, nil
}

func (r *ProductRepoSQLite) GetBySKU(ctx context.Context, sku string) (*productDomain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE sku=?`, sku)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sku %s", productDomain.ErrProductNotFound, sku)
		}
		return nil, productDomain.StoreError("get_by_sku", err)
	}
	return p, nil
}

func (r *ProductRepoSQLite) FindByIDsStrict(ctx context.Context, ids []uuid.UUID) ([]*productDomain.Product, error) {
	unique := productDomain.UniqueIDs(ids)
	products, err := r.ListByCriteria(ctx, productDomain.IDsCriteria{IDs: unique})
	if err != nil {
		return nil, err
	}
	if err := productDomain.EnsureAllFound(unique, products); err != nil {
		return nil, err
	}
	return products, nil
}

// LockForUpdate es una lectura normal: la transacción IMMEDIATE ya tiene el lock de escritura.
func (r *ProductRepoSQLite) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*productDomain.Product, error) {
	return r.ListByCriteria(ctx, productDomain.IDsCriteria{IDs: ids})
}

func (r *ProductRepoSQLite) ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria) ([]*productDomain.Product, error) {
	where, args, err := sharedDB.BuildWhere(criteria, productDomain.AllowedCriteriaFields, sharedDB.Question, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", productDomain.ErrInvalidRequest, err)
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id"

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

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Sin códigos extendidos solo queda el mensaje.
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(s scanner) (*productDomain.Product, error) {
	var p productDomain.Product
	var idStr, status string
	if err := s.Scan(
		&idStr, &p.Title, &p.Description, &p.Price, &p.AvailableQuantity, &status,
		&p.SKU, &p.Category, &p.Brand, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	// El ID se guarda como TEXT, lo parseamos de nuevo.
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in products row: %w", err)
	}
	p.ID = id
	p.Status = productDomain.ProductStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ------------------ Unit of Work ------------------

type UnitOfWorkSQLite struct {
	db *sql.DB
}

var _ productDomain.UnitOfWork = (*UnitOfWorkSQLite)(nil)

func NewUnitOfWorkSQLite(db *sql.DB) *UnitOfWorkSQLite {
	return &UnitOfWorkSQLite{db: db}
}

func (u *UnitOfWorkSQLite) Do(ctx context.Context, fn func(ctx context.Context, store productDomain.ProductStore) error) error {
	err := sharedDB.RunInTx(ctx, u.db, nil, func(tx *sql.Tx) error {
		return fn(ctx, &ProductRepoSQLite{q: tx})
	})
	if errors.Is(err, sharedDB.ErrTx) {
		return productDomain.StoreError("tx", err)
	}
	return err
}
