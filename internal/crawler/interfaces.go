package crawler

import (
	"context"
	"time"
)

// Session is one exclusively owned browser tab. Implementations are not
// safe for concurrent use; a worker holds exactly one for its lifetime.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector matches or timeout elapses. A timeout
	// is reported as ErrInteraction.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Click activates the first element matching selector via script so
	// overlays cannot intercept it.
	Click(ctx context.Context, selector string) error
	RunScript(ctx context.Context, script string, out any) error
	// HTML returns the current DOM serialized as HTML.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Browser hands out sessions backed by one browser process.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// DedupIndex records which global identifiers were claimed in this run.
type DedupIndex interface {
	// TryClaim returns true only for the first claim of id.
	TryClaim(ctx context.Context, id string) bool
}

// Enricher resolves a global identifier to API metadata. The boolean is
// false when no usable metadata exists; errors never surface.
type Enricher interface {
	Enrich(ctx context.Context, globalID string) (Metadata, bool)
}

// Sink receives normalized records. Write may be called concurrently.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Close(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
