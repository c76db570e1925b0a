// Package memory provides a synthetic in-memory catalog source for tests
// and local development, with hooks for failure injection.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// Source serves a fixed catalog from memory. The optional hooks run before
// the corresponding operation and may return an error to inject a failure;
// tests use them to simulate throttling, expired credentials, and outages.
type Source struct {
	mu sync.Mutex

	catalog []harvest.Category
	items   map[string][]harvest.Item

	// AuthHook runs before each Authenticate; auths counts calls so far.
	AuthHook func(auths int) error
	// PageHook runs before each FetchPage; fetches counts calls so far.
	PageHook func(categoryID string, offset, size, fetches int) error

	auths   int
	fetches int
}

// New builds a Source over the given catalog. items maps category id to the
// full ordered listing for that category.
func New(catalog []harvest.Category, items map[string][]harvest.Item) *Source {
	return &Source{catalog: catalog, items: items}
}

// Authenticate issues a synthetic token.
func (s *Source) Authenticate(context.Context) (harvest.Credential, error) {
	s.mu.Lock()
	s.auths++
	auths := s.auths
	hook := s.AuthHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(auths); err != nil {
			return harvest.Credential{}, err
		}
	}
	return harvest.Credential{Token: fmt.Sprintf("token-%d", auths)}, nil
}

// Categories returns the configured catalog.
func (s *Source) Categories(context.Context, harvest.Credential) ([]harvest.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.Category, len(s.catalog))
	copy(out, s.catalog)
	return out, nil
}

// FetchPage returns the window [offset, offset+size) of the category's
// listing, with the listing length as the reported total.
func (s *Source) FetchPage(_ context.Context, _ harvest.Credential, categoryID string, offset, size int) (harvest.Page, error) {
	s.mu.Lock()
	s.fetches++
	fetches := s.fetches
	hook := s.PageHook
	listing := s.items[categoryID]
	s.mu.Unlock()

	if hook != nil {
		if err := hook(categoryID, offset, size, fetches); err != nil {
			return harvest.Page{}, err
		}
	}
	if offset < 0 || offset >= len(listing) {
		return harvest.Page{Total: len(listing)}, nil
	}
	end := min(offset+size, len(listing))
	items := make([]harvest.Item, end-offset)
	copy(items, listing[offset:end])
	return harvest.Page{Items: items, Total: len(listing)}, nil
}

// Fetches returns how many page requests have been made.
func (s *Source) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Auths returns how many authentication calls have been made.
func (s *Source) Auths() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auths
}
