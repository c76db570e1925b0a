// Package memory provides an in-memory product store for development and
// testing.
package memory

import (
	"context"
	"sync"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// Store keeps products in insertion order, skipping ids it has already seen.
type Store struct {
	mu       sync.RWMutex
	products []harvest.Product
	index    map[string]struct{}
}

// New constructs an empty Store.
func New() *Store {
	return &Store{index: make(map[string]struct{})}
}

// Persist appends products whose external id has not been stored yet.
func (s *Store) Persist(_ context.Context, products []harvest.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if _, ok := s.index[p.ExternalID]; ok {
			continue
		}
		s.index[p.ExternalID] = struct{}{}
		s.products = append(s.products, p)
	}
	return nil
}

// LoadIDs returns every stored external id.
func (s *Store) LoadIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p.ExternalID)
	}
	return out, nil
}

// Read returns a page of stored products in insertion order.
func (s *Store) Read(_ context.Context, offset, limit int) ([]harvest.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.products) {
		return nil, nil
	}
	end := len(s.products)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]harvest.Product, end-offset)
	copy(out, s.products[offset:end])
	return out, nil
}

// Count returns the number of stored products.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}
