package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"dealhunter/internal/models"
)

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint
	items  map[uint]*models.Purchase
}

func NewMemory() *MemoryStore {
	return &MemoryStore{nextID: 1, items: make(map[uint]*models.Purchase)}
}

func (s *MemoryStore) Create(p *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	s.items[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Save(p *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.items[p.ID]
	if !ok {
		return fmt.Errorf("purchase %d not found", p.ID)
	}
	p.UpdatedAt = time.Now()
	cp := *p
	cp.Errors = prev.Errors
	s.items[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(id uint) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("purchase %d not found", id)
	}
	cp := *p
	cp.Errors = append([]models.PurchaseError(nil), p.Errors...)
	return &cp, nil
}

func (s *MemoryStore) AppendError(purchaseID uint, e models.PurchaseError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[purchaseID]
	if !ok {
		return fmt.Errorf("purchase %d not found", purchaseID)
	}
	e.PurchaseID = purchaseID
	e.ID = uint(len(p.Errors) + 1)
	p.Errors = append(p.Errors, e)
	return nil
}

func (s *MemoryStore) List(limit int) ([]models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Purchase, 0, len(s.items))
	for _, p := range s.items {
		cp := *p
		cp.Errors = append([]models.PurchaseError(nil), p.Errors...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
