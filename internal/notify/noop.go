package notify

import (
	"context"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

// Noop discards notifications. Used in tests and when notifications are
// disabled service-wide.
type Noop struct{}

// NewNoop constructs the notifier.
func NewNoop() *Noop { return &Noop{} }

// Notify implements harvest.Notifier.
func (*Noop) Notify(context.Context, harvest.Notification) error { return nil }
