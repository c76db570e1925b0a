package harvest

import (
	"context"

	"go.uber.org/zap"
)

// Discoverer enumerates harvestable categories from a source, dropping
// denylisted entries and truncating to an optional limit while preserving
// source order.
type Discoverer struct {
	source   Source
	denylist map[string]string
	logger   *zap.Logger
}

// NewDiscoverer builds a Discoverer. The denylist maps category id to a
// human-readable reason for skipping it.
func NewDiscoverer(source Source, denylist map[string]string, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{source: source, denylist: denylist, logger: logger}
}

// Discover returns the categories to harvest. An empty result is a
// DiscoveryError: a catalog with no categories means the listing endpoint is
// broken, and harvesting nothing must not look like success.
func (d *Discoverer) Discover(ctx context.Context, cred Credential, limit *int) ([]Category, error) {
	cats, err := d.source.Categories(ctx, cred)
	if err != nil {
		return nil, &DiscoveryError{Reason: "listing categories", Err: err}
	}
	out := make([]Category, 0, len(cats))
	for _, cat := range cats {
		if reason, skip := d.denylist[cat.ID]; skip {
			d.logger.Info("skipping denylisted category",
				zap.String("category_id", cat.ID),
				zap.String("category_name", cat.Name),
				zap.String("reason", reason),
			)
			continue
		}
		out = append(out, cat)
	}
	if len(out) == 0 {
		return nil, &DiscoveryError{Reason: "source returned no usable categories"}
	}
	if limit != nil && *limit < len(out) {
		out = out[:*limit]
	}
	d.logger.Info("discovered categories", zap.Int("count", len(out)))
	return out, nil
}
