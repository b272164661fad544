package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/id"
	"github.com/xraph/popgate/respond"
)

type subscription struct {
	event Event
	fn    Handler
	once  bool
}

// Registry maps identifiers to live jobs. It is the only owner of the
// set of live identifiers and is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	subs []subscription

	gen         *id.Generator
	pending     int
	maxPending  int
	respondOpts []respond.Option
	now         func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithGenerator sets the identifier generator.
func WithGenerator(g *id.Generator) RegistryOption {
	return func(r *Registry) { r.gen = g }
}

// WithMaxPending caps the number of pending jobs. Create fails with
// ErrRegistryFull at the cap. Zero means no cap.
func WithMaxPending(n int) RegistryOption {
	return func(r *Registry) { r.maxPending = n }
}

// WithResponderOptions sets the options used when delivering results.
func WithResponderOptions(opts ...respond.Option) RegistryOption {
	return func(r *Registry) { r.respondOpts = opts }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		jobs: make(map[string]*Job),
		gen:  id.New(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create generates a fresh identifier, registers a pending job under it,
// and applies every broadcast subscription to the new job. Identifier
// generation and insertion happen in one critical section, so concurrent
// creations never share an identifier and never overshoot the pending
// cap.
func (r *Registry) Create(ctx context.Context) (*Job, error) {
	r.mu.Lock()
	if r.maxPending > 0 && r.pending >= r.maxPending {
		n := r.pending
		r.mu.Unlock()
		return nil, fmt.Errorf("%d pending jobs: %w", n, popgate.ErrRegistryFull)
	}
	token := r.gen.Generate(func(s string) bool {
		_, taken := r.jobs[s]
		return taken
	})
	j := newJob(token, r, r.now())
	for _, s := range r.subs {
		j.listen(s.event, s.fn, s.once)
	}
	r.jobs[token] = j
	j.counted = true
	r.pending++
	r.mu.Unlock()

	j.fire(ctx, Notice{Event: EventCreated})
	return j, nil
}

// Lookup returns the live job for identifier.
func (r *Registry) Lookup(identifier string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[identifier]
	return j, ok
}

// Contains reports whether identifier belongs to a live job.
func (r *Registry) Contains(identifier string) bool {
	_, ok := r.Lookup(identifier)
	return ok
}

// Remove forgets identifier. Removing an unknown identifier is a no-op.
func (r *Registry) Remove(identifier string) {
	r.mu.Lock()
	if j, ok := r.jobs[identifier]; ok {
		delete(r.jobs, identifier)
		r.uncountLocked(j)
	}
	r.mu.Unlock()
}

// leavePending releases j's slot under the pending cap once it stops
// being pending. It is idempotent.
func (r *Registry) leavePending(j *Job) {
	r.mu.Lock()
	r.uncountLocked(j)
	r.mu.Unlock()
}

func (r *Registry) uncountLocked(j *Job) {
	if j.counted {
		j.counted = false
		r.pending--
	}
}

// Pending returns the number of pending jobs.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// On attaches fn to every live job and to every job created afterward.
func (r *Registry) On(event Event, fn Handler) {
	r.subscribe(subscription{event: event, fn: fn})
}

// Once is like On, but fn fires at most once per job.
func (r *Registry) Once(event Event, fn Handler) {
	r.subscribe(subscription{event: event, fn: fn, once: true})
}

func (r *Registry) subscribe(s subscription) {
	// Held across the fan-out so a concurrent Create cannot receive the
	// subscription twice.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, s)
	for _, j := range r.jobs {
		j.listen(s.event, s.fn, s.once)
	}
}

// Snapshot returns every live job ordered by creation time.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Info())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Counts returns the number of live jobs per state.
func (r *Registry) Counts() map[State]int {
	counts := map[State]int{StatePending: 0, StateActive: 0}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, j := range r.jobs {
		counts[j.State()]++
	}
	return counts
}

// Expire evicts pending jobs created at least olderThan ago and returns
// them. Active jobs are never evicted.
func (r *Registry) Expire(ctx context.Context, olderThan time.Duration) []Info {
	now := r.now()

	r.mu.RLock()
	var stale []*Job
	for _, j := range r.jobs {
		if now.Sub(j.createdAt) >= olderThan {
			stale = append(stale, j)
		}
	}
	r.mu.RUnlock()

	var expired []Info
	for _, j := range stale {
		if r.expire(ctx, j, now) {
			expired = append(expired, j.Info())
		}
	}
	return expired
}

// Evict expires one pending job. It fails with ErrUnknownIdentifier when
// no such job is live and ErrResponseConflict when the job is not pending.
func (r *Registry) Evict(ctx context.Context, identifier string) error {
	j, ok := r.Lookup(identifier)
	if !ok {
		return fmt.Errorf("job %s: %w", identifier, popgate.ErrUnknownIdentifier)
	}
	if !r.expire(ctx, j, r.now()) {
		return fmt.Errorf("job %s is not pending: %w", identifier, popgate.ErrResponseConflict)
	}
	return nil
}

func (r *Registry) expire(ctx context.Context, j *Job, now time.Time) bool {
	if !j.expire(now) {
		return false
	}
	r.Remove(j.id)
	r.leavePending(j)
	age := now.Sub(j.createdAt)
	j.fire(ctx, Notice{Event: EventExpired, Elapsed: age})
	j.fire(ctx, Notice{Event: EventStop, Elapsed: age})
	return true
}
