package cache

import (
	"fmt"
	"sync"
	"time"
)

// ProbeResult is the latest observation for one (item, retailer) pair.
// Superseded by the next probe for the same pair; history belongs to
// the purchase ledger, not here.
type ProbeResult struct {
	ItemID     uint       `json:"item_id"`
	RetailerID string     `json:"retailer_id"`
	Price      *float64   `json:"price,omitempty"`
	InStock    bool       `json:"in_stock"`
	Title      string     `json:"title,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// Store keeps at most one live ProbeResult per (item, retailer) key.
// Safe for concurrent use; eviction never blocks readers into a
// half-evicted view.
type Store struct {
	mu      sync.RWMutex
	entries map[string]ProbeResult
}

func NewStore() *Store {
	return &Store{entries: make(map[string]ProbeResult)}
}

func key(itemID uint, retailerID string) string {
	return fmt.Sprintf("%d:%s", itemID, retailerID)
}

// Put overwrites the prior entry for the pair, if any.
func (s *Store) Put(res ProbeResult) {
	s.mu.Lock()
	s.entries[key(res.ItemID, res.RetailerID)] = res
	s.mu.Unlock()
}

// Get returns the live result for the pair. Absence is not an error;
// it means no probe has completed yet.
func (s *Store) Get(itemID uint, retailerID string) (ProbeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.entries[key(itemID, retailerID)]
	return res, ok
}

// AllForItem returns every live result for the item across retailers.
func (s *Store) AllForItem(itemID uint) []ProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ProbeResult
	for _, res := range s.entries {
		if res.ItemID == itemID {
			out = append(out, res)
		}
	}
	return out
}

// EvictOlderThan removes entries observed more than maxAge ago and
// returns how many were dropped. Invoked by the cleanup tier.
func (s *Store) EvictOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, res := range s.entries {
		if res.ObservedAt.Before(cutoff) {
			delete(s.entries, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
