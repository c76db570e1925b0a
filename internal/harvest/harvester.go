package harvest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/telemetry"
)

// quota tracks the job-wide product budget. Slots are reserved before a
// persist, so concurrent category harvesters can never overshoot the limit
// between them. A zero limit means unlimited.
type quota struct {
	mu    sync.Mutex
	limit int
	used  int
}

func newQuota(limit *int) *quota {
	q := &quota{}
	if limit != nil {
		q.limit = *limit
	}
	return q
}

// reserve grants up to n slots and returns how many were granted.
func (q *quota) reserve(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit <= 0 {
		q.used += n
		return n
	}
	grant := min(n, q.limit-q.used)
	if grant < 0 {
		grant = 0
	}
	q.used += grant
	return grant
}

func (q *quota) seed(used int) {
	q.mu.Lock()
	q.used = used
	q.mu.Unlock()
}

func (q *quota) exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit > 0 && q.used >= q.limit
}

func (q *quota) total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// credentials caches the source credential and refreshes it on demand.
type credentials struct {
	mu     sync.RWMutex
	source Source
	cred   Credential
}

func (c *credentials) get() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}

func (c *credentials) refresh(ctx context.Context) error {
	cred, err := c.source.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	return nil
}

// harvester walks one category at a time through the paginated listing.
// Instances are shared across category goroutines; the per-category state
// lives in the Category passed to harvestCategory, which only its own
// goroutine touches.
type harvester struct {
	source Source
	creds  *credentials
	rate   *RateController
	retry  *Retrier
	seen   *IDSet
	store  ProductStore
	quota  *quota
	sizer  *PageSizer
	stats  *Counters
	clock  Clock
	logger *zap.Logger

	maxEmptyPages   int
	checkpointEvery int
	checkpoint      func(ctx context.Context) error
	onPage          func(cat *Category, newItems int)
}

// harvestCategory drains one category. It stops when the job-wide limit is
// reached, the source reports the listing exhausted (explicit bound or
// maxEmptyPages consecutive empty pages), or a request fails past the retry
// budget. It returns the number of new products persisted; a non-nil error
// marks the category failed without aborting the job.
func (h *harvester) harvestCategory(ctx context.Context, cat *Category) (int, error) {
	log := h.logger.With(zap.String("category_id", cat.ID), zap.String("category_name", cat.Name))
	var (
		newCount        int
		emptyStreak     int
		sinceCheckpoint int
	)
	for {
		if err := ctx.Err(); err != nil {
			return newCount, err
		}
		if h.quota.exhausted() {
			log.Info("product limit reached, stopping category", zap.Int("cursor", cat.Cursor))
			cat.Completed = true
			return newCount, nil
		}
		if cat.Total > 0 && cat.Cursor >= cat.Total {
			log.Debug("category exhausted at reported bound", zap.Int("total", cat.Total))
			cat.Completed = true
			return newCount, nil
		}

		page, err := h.fetchPage(ctx, cat.ID, cat.Cursor)
		h.sizer.Observe(h.stats.SuccessRate())
		if err != nil {
			return newCount, fmt.Errorf("category %s at cursor %d: %w", cat.ID, cat.Cursor, err)
		}
		if page.Total > 0 {
			cat.Total = page.Total
		}

		if len(page.Items) == 0 {
			emptyStreak++
			if emptyStreak >= h.maxEmptyPages {
				log.Debug("category exhausted after empty pages", zap.Int("empty_pages", emptyStreak))
				cat.Completed = true
				return newCount, nil
			}
			continue
		}
		emptyStreak = 0

		stored, err := h.persistNew(ctx, cat, page.Items)
		if err != nil {
			return newCount, err
		}
		newCount += stored
		sinceCheckpoint += stored
		// Cursor moves by what the source actually returned, duplicates
		// included, so a resumed run lands on the same page boundaries.
		cat.Cursor += len(page.Items)

		if h.onPage != nil {
			h.onPage(cat, stored)
		}
		if sinceCheckpoint >= h.checkpointEvery {
			if err := h.checkpoint(ctx); err != nil {
				log.Warn("checkpoint save failed", zap.Error(err))
			}
			sinceCheckpoint = 0
		}
	}
}

// fetchPage performs one rate-controlled, retried page request.
func (h *harvester) fetchPage(ctx context.Context, categoryID string, cursor int) (Page, error) {
	var page Page
	err := h.retry.Do(ctx, func(ctx context.Context) error {
		if err := h.rate.Acquire(ctx); err != nil {
			return err
		}
		defer h.rate.Release()
		start := h.clock.Now()
		p, err := h.source.FetchPage(ctx, h.creds.get(), categoryID, cursor, h.sizer.Current())
		telemetry.ObserveFetch(h.clock.Now().Sub(start), err == nil)
		if err != nil {
			if IsRateLimited(err) {
				h.rate.Throttle()
			}
			return err
		}
		page = p
		return nil
	}, h.creds.refresh)
	return page, err
}

// persistNew filters already-seen items, reserves limit slots, persists the
// remainder, and only then marks the ids as seen. Returns how many products
// were stored.
func (h *harvester) persistNew(ctx context.Context, cat *Category, items []Item) (int, error) {
	fresh := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" || h.seen.Has(it.ID) {
			continue
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	grant := h.quota.reserve(len(fresh))
	if grant == 0 {
		return 0, nil
	}
	fresh = fresh[:grant]

	now := h.clock.Now()
	products := make([]Product, len(fresh))
	ids := make([]string, len(fresh))
	for i, it := range fresh {
		products[i] = Product{
			ExternalID: it.ID,
			CategoryID: cat.ID,
			Payload:    it.Payload,
			ScrapedAt:  now,
		}
		ids[i] = it.ID
	}
	if err := h.store.Persist(ctx, products); err != nil {
		return 0, fmt.Errorf("persist %d products: %w", len(products), err)
	}
	h.seen.AddAll(ids)
	telemetry.AddProducts(cat.ID, len(products))
	return len(products), nil
}
