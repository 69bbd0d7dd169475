package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davicafu/productflow/internal/product/domain"
	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
	"github.com/google/uuid"
)

// Store es un ProductStore + UnitOfWork en memoria.
// Cada fila tiene su propio lock, que una transacción toma al escribirla o al bloquearla
// y mantiene hasta commit/rollback. Las lecturas sin bloqueo ven lo último confirmado.
type Store struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*domain.Product
	skus  map[string]uuid.UUID
	locks map[uuid.UUID]*sync.Mutex
}

var (
	_ domain.ProductStore = (*Store)(nil)
	_ domain.UnitOfWork   = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		rows:  make(map[uuid.UUID]*domain.Product),
		skus:  make(map[string]uuid.UUID),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// Do ejecuta fn con una vista transaccional. Commit si devuelve nil; rollback ante error o panic.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, store domain.ProductStore) error) (err error) {
	tx := s.begin()
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// ------------------ Operaciones fuera de transacción ------------------

func (s *Store) Create(ctx context.Context, p *domain.Product) error {
	return s.Do(ctx, func(ctx context.Context, store domain.ProductStore) error {
		return store.Create(ctx, p)
	})
}

func (s *Store) AtomicDecrement(ctx context.Context, id uuid.UUID, quantity int) (rows int64, err error) {
	err = s.Do(ctx, func(ctx context.Context, store domain.ProductStore) error {
		rows, err = store.AtomicDecrement(ctx, id, quantity)
		return err
	})
	return rows, err
}

func (s *Store) Save(ctx context.Context, p *domain.Product) error {
	return s.Do(ctx, func(ctx context.Context, store domain.ProductStore) error {
		return store.Save(ctx, p)
	})
}

// LockForUpdate fuera de una transacción equivale a una lectura: el lock se liberaría al instante.
func (s *Store) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	return s.ListByCriteria(ctx, domain.IDsCriteria{IDs: ids})
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return p.Clone(), nil
}

func (s *Store) GetBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.skus[sku]
	if !ok {
		return nil, fmt.Errorf("%w: sku %s", domain.ErrProductNotFound, sku)
	}
	return s.rows[id].Clone(), nil
}

func (s *Store) FindByIDsStrict(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	unique := domain.UniqueIDs(ids)
	found, err := s.ListByCriteria(ctx, domain.IDsCriteria{IDs: unique})
	if err != nil {
		return nil, err
	}
	if err := domain.EnsureAllFound(unique, found); err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Store) ListByCriteria(_ context.Context, criteria sharedDomain.Criteria) ([]*domain.Product, error) {
	s.mu.Lock()
	snapshot := make([]*domain.Product, 0, len(s.rows))
	for _, p := range s.rows {
		snapshot = append(snapshot, p.Clone())
	}
	s.mu.Unlock()

	return filter(snapshot, criteria)
}

// Len devuelve el número de productos confirmados.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// rowLock devuelve el lock de una fila confirmada, o nil si la fila no existe.
// Las filas nunca se borran, así que locks no crece más que rows.
func (s *Store) rowLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[id]; !exists {
		return nil
	}
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ------------------ Vista transaccional ------------------

type txStore struct {
	s       *Store
	held    map[uuid.UUID]*sync.Mutex
	staged  map[uuid.UUID]*domain.Product
	created []*domain.Product
	done    bool
}

func (s *Store) begin() *txStore {
	return &txStore{
		s:      s,
		held:   make(map[uuid.UUID]*sync.Mutex),
		staged: make(map[uuid.UUID]*domain.Product),
	}
}

func (tx *txStore) lock(id uuid.UUID) {
	if _, ok := tx.held[id]; ok {
		return
	}
	l := tx.s.rowLock(id)
	if l == nil {
		return
	}
	l.Lock()
	tx.held[id] = l
}

func (tx *txStore) release() {
	for id, l := range tx.held {
		l.Unlock()
		delete(tx.held, id)
	}
	tx.done = true
}

// current devuelve la versión visible para esta transacción (staged o confirmada).
func (tx *txStore) current(id uuid.UUID) (*domain.Product, bool) {
	if p, ok := tx.staged[id]; ok {
		return p.Clone(), true
	}
	for _, p := range tx.created {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	p, ok := tx.s.rows[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (tx *txStore) Create(_ context.Context, p *domain.Product) error {
	tx.s.mu.Lock()
	_, dup := tx.s.skus[p.SKU]
	tx.s.mu.Unlock()
	for _, c := range tx.created {
		dup = dup || c.SKU == p.SKU
	}
	if dup {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSKU, p.SKU)
	}
	tx.created = append(tx.created, p.Clone())
	return nil
}

func (tx *txStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	p, ok := tx.current(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return p, nil
}

func (tx *txStore) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	for _, c := range tx.created {
		if c.SKU == sku {
			return c.Clone(), nil
		}
	}
	p, err := tx.s.GetBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	return tx.GetByID(ctx, p.ID)
}

func (tx *txStore) FindByIDsStrict(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	unique := domain.UniqueIDs(ids)
	found, err := tx.ListByCriteria(ctx, domain.IDsCriteria{IDs: unique})
	if err != nil {
		return nil, err
	}
	if err := domain.EnsureAllFound(unique, found); err != nil {
		return nil, err
	}
	return found, nil
}

func (tx *txStore) ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria) ([]*domain.Product, error) {
	committed, err := tx.s.ListByCriteria(ctx, nil)
	if err != nil {
		return nil, err
	}
	view := make([]*domain.Product, 0, len(committed)+len(tx.created))
	for _, p := range committed {
		if staged, ok := tx.staged[p.ID]; ok {
			p = staged.Clone()
		}
		view = append(view, p)
	}
	for _, c := range tx.created {
		view = append(view, c.Clone())
	}
	return filter(view, criteria)
}

// LockForUpdate toma los locks en orden de id en una sola llamada.
func (tx *txStore) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	for _, id := range sorted {
		tx.lock(id)
	}

	out := make([]*domain.Product, 0, len(sorted))
	for _, id := range sorted {
		if p, ok := tx.current(id); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *txStore) AtomicDecrement(_ context.Context, id uuid.UUID, quantity int) (int64, error) {
	tx.lock(id)
	p, ok := tx.current(id)
	if !ok || p.AvailableQuantity < quantity {
		return 0, nil
	}
	p.AvailableQuantity -= quantity
	p.UpdatedAt = time.Now().UTC()
	tx.staged[id] = p
	return 1, nil
}

func (tx *txStore) Save(_ context.Context, p *domain.Product) error {
	tx.lock(p.ID)
	if _, ok := tx.current(p.ID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	tx.staged[p.ID] = p.Clone()
	return nil
}

func (tx *txStore) commit() error {
	defer tx.release()

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	for _, c := range tx.created {
		if _, dup := tx.s.skus[c.SKU]; dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSKU, c.SKU)
		}
	}
	for _, c := range tx.created {
		tx.s.rows[c.ID] = c
		tx.s.skus[c.SKU] = c.ID
	}
	for id, p := range tx.staged {
		if old, ok := tx.s.rows[id]; ok && old.SKU != p.SKU {
			delete(tx.s.skus, old.SKU)
		}
		tx.s.rows[id] = p
		tx.s.skus[p.SKU] = id
	}
	return nil
}

func (tx *txStore) rollback() {
	if !tx.done {
		tx.release()
	}
}

// ------------------ Filtrado ------------------

func filter(products []*domain.Product, criteria sharedDomain.Criteria) ([]*domain.Product, error) {
	var conds []sharedDomain.Criterion
	if criteria != nil {
		conds = criteria.ToConditions()
	}
	for _, c := range conds {
		if !domain.AllowedCriteriaFields[c.Field] {
			return nil, fmt.Errorf("%w: unsupported criteria field %q", domain.ErrInvalidRequest, c.Field)
		}
	}

	out := make([]*domain.Product, 0, len(products))
	for _, p := range products {
		ok, err := matches(p, conds)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func matches(p *domain.Product, conds []sharedDomain.Criterion) (bool, error) {
	for _, c := range conds {
		value := fieldValue(p, c.Field)
		switch c.Op {
		case sharedDomain.OpEq:
			if value != fmt.Sprint(c.Value) {
				return false, nil
			}
		case sharedDomain.OpIn:
			values, ok := c.Value.([]string)
			if !ok {
				return false, fmt.Errorf("%w: IN expects []string, got %T", domain.ErrInvalidRequest, c.Value)
			}
			found := false
			for _, v := range values {
				if v == value {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: unsupported operator %q", domain.ErrInvalidRequest, c.Op)
		}
	}
	return true, nil
}

func fieldValue(p *domain.Product, field string) string {
	switch field {
	case "id":
		return p.ID.String()
	case "status":
		return string(p.Status)
	case "category":
		return p.Category
	case "sku":
		return p.SKU
	case "brand":
		return p.Brand
	}
	return ""
}
