package progress

import "context"

// Sink receives progress snapshots. Implementations must honor ctx deadlines
// and tolerate repeated Flush calls with identical snapshots.
type Sink interface {
	Flush(ctx context.Context, snap Snapshot) error
	Close(ctx context.Context) error
}
