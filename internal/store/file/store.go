// Package file implements a JSON-file product store. One file holds the full
// product array; every persist rewrites it through a temp file and rename so
// a crash can never leave a half-written result behind.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// Store persists products as a JSON array at a fixed path. A single mutex
// serializes writers; concurrent category harvesters funnel through it.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// New creates a Store writing to path, creating parent directories as
// needed.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string { return s.path }

// Persist merges the batch into the file, dropping ids already present.
func (s *Store) Persist(_ context.Context, products []harvest.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.load()
	index := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		index[p.ExternalID] = struct{}{}
	}
	for _, p := range products {
		if _, ok := index[p.ExternalID]; ok {
			continue
		}
		index[p.ExternalID] = struct{}{}
		existing = append(existing, p)
	}
	return s.write(existing)
}

// LoadIDs returns the external ids currently on disk.
func (s *Store) LoadIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := s.load()
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ExternalID)
	}
	return out, nil
}

// Read returns a page of products in stored order.
func (s *Store) Read(_ context.Context, offset, limit int) ([]harvest.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := s.load()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(products) {
		return nil, nil
	}
	end := len(products)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return products[offset:end], nil
}

// Count returns the number of products on disk.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.load()), nil
}

// load reads the file; a missing or corrupt file is treated as empty so a
// damaged artifact degrades to a fresh harvest instead of a stuck job.
func (s *Store) load() []harvest.Product {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("product file unreadable, treating as empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return nil
	}
	var products []harvest.Product
	if err := json.Unmarshal(data, &products); err != nil {
		s.logger.Warn("product file corrupt, treating as empty",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}
	return products
}

func (s *Store) write(products []harvest.Product) error {
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp product file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace product file: %w", err)
	}
	return nil
}
