package memory

import (
	"context"
	"sort"
	"sync"

	productDomain "github.com/davicafu/productflow/internal/product/domain"
)

// ReplenishmentStore guarda peticiones en memoria. Se usa sin MONGO_URI y en tests.
type ReplenishmentStore struct {
	mu   sync.RWMutex
	byID map[string]productDomain.ReplenishmentRequest
}

var _ productDomain.ReplenishmentStore = (*ReplenishmentStore)(nil)

func NewReplenishmentStore() *ReplenishmentStore {
	return &ReplenishmentStore{byID: make(map[string]productDomain.ReplenishmentRequest)}
}

func (s *ReplenishmentStore) Upsert(_ context.Context, r productDomain.ReplenishmentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.EventKey]; !ok {
		s.byID[r.EventKey] = r
	}
	return nil
}

func (s *ReplenishmentStore) ListPending(_ context.Context, warehouseID string) ([]productDomain.ReplenishmentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []productDomain.ReplenishmentRequest
	for _, r := range s.byID {
		if r.WarehouseID == warehouseID && r.Status == productDomain.ReplenishmentPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}
