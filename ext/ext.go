package ext

import (
	"context"
	"time"

	"github.com/xraph/popgate/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job is registered.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobAttached is called when a continuation request attaches to a job.
type JobAttached interface {
	OnJobAttached(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job's result is delivered.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called after a job finishes with a server error.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobExpired is called when a pending job is evicted.
type JobExpired interface {
	OnJobExpired(ctx context.Context, j *job.Job, age time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
