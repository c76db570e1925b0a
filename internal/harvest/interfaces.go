package harvest

import (
	"context"
	"time"
)

// Credential is an opaque access token issued by a Source.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

// Source is a paginated catalog backend. FetchPage returns the slice of the
// category listing starting at the given item offset.
type Source interface {
	Authenticate(ctx context.Context) (Credential, error)
	Categories(ctx context.Context, cred Credential) ([]Category, error)
	FetchPage(ctx context.Context, cred Credential, categoryID string, offset, size int) (Page, error)
}

// ProductStore persists harvested products. Persist must tolerate ids it has
// already seen; LoadIDs returns every external id currently stored.
type ProductStore interface {
	Persist(ctx context.Context, products []Product) error
	LoadIDs(ctx context.Context) ([]string, error)
	Read(ctx context.Context, offset, limit int) ([]Product, error)
	Count(ctx context.Context) (int, error)
}

// CheckpointStore persists resumable job state and the completion marker.
// Load returns ok=false when no checkpoint exists or it cannot be decoded.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context) (Checkpoint, bool, error)
	SaveCompletion(ctx context.Context, m CompletionMarker) error
	LoadCompletion(ctx context.Context) (CompletionMarker, bool, error)
}

// Notifier delivers terminal-state notifications. Delivery is best effort;
// the supervisor logs and ignores errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Clock abstracts wall-clock access for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Reporter receives progress updates from a running job.
type Reporter interface {
	Report(p Progress)
}

// NopReporter discards progress updates.
type NopReporter struct{}

func (NopReporter) Report(Progress) {}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Progress)

func (f ReporterFunc) Report(p Progress) { f(p) }

// MultiReporter fans each progress update out to every non-nil reporter.
type MultiReporter []Reporter

func (m MultiReporter) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}
