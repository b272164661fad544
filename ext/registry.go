package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/popgate/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobCreatedEntry struct {
	name string
	hook JobCreated
}

type jobAttachedEntry struct {
	name string
	hook JobAttached
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobExpiredEntry struct {
	name string
	hook JobExpired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Register everything before the gateway starts serving.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobCreated   []jobCreatedEntry
	jobAttached  []jobAttachedEntry
	jobCompleted []jobCompletedEntry
	jobFailed    []jobFailedEntry
	jobExpired   []jobExpiredEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, jobCreatedEntry{name, h})
	}
	if h, ok := e.(JobAttached); ok {
		r.jobAttached = append(r.jobAttached, jobAttachedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobExpired); ok {
		r.jobExpired = append(r.jobExpired, jobExpiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// Observe subscribes the registry to every job lifecycle event of jobs,
// for existing jobs and for jobs created later.
func (r *Registry) Observe(jobs *job.Registry) {
	jobs.On(job.EventCreated, func(ctx context.Context, n job.Notice) {
		r.EmitJobCreated(ctx, n.Job)
	})
	jobs.On(job.EventAttached, func(ctx context.Context, n job.Notice) {
		r.EmitJobAttached(ctx, n.Job)
	})
	jobs.On(job.EventCompleted, func(ctx context.Context, n job.Notice) {
		r.EmitJobCompleted(ctx, n.Job, n.Elapsed)
	})
	jobs.On(job.EventFailed, func(ctx context.Context, n job.Notice) {
		r.EmitJobFailed(ctx, n.Job, n.Err)
	})
	jobs.On(job.EventExpired, func(ctx context.Context, n job.Notice) {
		r.EmitJobExpired(ctx, n.Job, n.Elapsed)
	})
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies all extensions that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		if err := e.hook.OnJobCreated(ctx, j); err != nil {
			r.logHookError("OnJobCreated", e.name, err)
		}
	}
}

// EmitJobAttached notifies all extensions that implement JobAttached.
func (r *Registry) EmitJobAttached(ctx context.Context, j *job.Job) {
	for _, e := range r.jobAttached {
		if err := e.hook.OnJobAttached(ctx, j); err != nil {
			r.logHookError("OnJobAttached", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobExpired notifies all extensions that implement JobExpired.
func (r *Registry) EmitJobExpired(ctx context.Context, j *job.Job, age time.Duration) {
	for _, e := range r.jobExpired {
		if err := e.hook.OnJobExpired(ctx, j, age); err != nil {
			r.logHookError("OnJobExpired", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
