package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/producer"
)

// Expirer evicts pending jobs older than a TTL.
type Expirer interface {
	Expire(ctx context.Context, olderThan time.Duration) []job.Info
}

// Pruner discards per-client state idle for longer than a horizon.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Pool bounds concurrent producer runs and reaps expired pending jobs.
type Pool struct {
	executor *Executor
	jobs     Expirer
	logger   *slog.Logger

	concurrency  int
	pendingTTL   time.Duration
	reapInterval time.Duration
	pruners      []Pruner

	slots chan struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup // reaper
	runs    sync.WaitGroup // active and waiting runs
	mu      sync.Mutex
	running bool
	closed  bool

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets how many producers may run at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPendingTTL sets how long a job may stay pending before the reaper
// evicts it. Zero disables reaping.
func WithPendingTTL(d time.Duration) PoolOption {
	return func(p *Pool) { p.pendingTTL = d }
}

// WithReapInterval sets how often the reaper runs.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// WithPruner adds state the reaper prunes with the pending TTL as the
// idle horizon.
func WithPruner(pr Pruner) PoolOption {
	return func(p *Pool) { p.pruners = append(p.pruners, pr) }
}

// NewPool creates a worker pool.
func NewPool(jobs Expirer, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:     executor,
		jobs:         jobs,
		logger:       logger,
		concurrency:  16,
		pendingTTL:   10 * time.Minute,
		reapInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.slots = make(chan struct{}, p.concurrency)
	return p
}

// Start launches the reaper. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.closed {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("pending_ttl", p.pendingTTL),
	)

	if p.pendingTTL > 0 && p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Run executes j's producer once a slot is free. It blocks until the job
// is answered. A run that cannot get a slot before ctx ends, or that
// arrives after Stop, is answered with 503 and removed.
func (p *Pool) Run(ctx context.Context, j *job.Job, in producer.Input) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.refuse(ctx, j, popgate.ErrPoolClosed)
		return popgate.ErrPoolClosed
	}
	p.runs.Add(1)
	p.mu.Unlock()
	defer p.runs.Done()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		err := fmt.Errorf("waiting for a worker slot: %w", ctx.Err())
		p.refuse(ctx, j, err)
		return err
	}
	defer func() { <-p.slots }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.trackJob(j.ID(), cancel)
	defer p.untrackJob(j.ID())

	return p.executor.Execute(ctx, j, in)
}

func (p *Pool) refuse(ctx context.Context, j *job.Job, cause error) {
	msg := []byte(fmt.Sprintf("job %s not run: %v", j.ID(), cause))
	if err := j.Deliver(context.WithoutCancel(ctx), msg, http.StatusServiceUnavailable, ""); err != nil {
		p.logger.Debug("refuse run", slog.String("job_id", j.ID()), slog.String("error", err.Error()))
	}
}

// Stop refuses new runs and waits for active ones. If ctx ends first,
// active runs are cancelled and Stop waits for them to answer.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	if wasRunning {
		close(p.stopCh)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

// PoolStats reports pool occupancy.
type PoolStats struct {
	Concurrency int `json:"concurrency"`
	Active      int `json:"active"`
}

// Stats returns the current occupancy.
func (p *Pool) Stats() PoolStats {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return PoolStats{Concurrency: p.concurrency, Active: len(p.activeJobs)}
}

func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Reap(context.Background())
		}
	}
}

// Reap evicts pending jobs older than the pending TTL and prunes idle
// state. The reaper calls it on every tick.
func (p *Pool) Reap(ctx context.Context) []job.Info {
	expired := p.jobs.Expire(ctx, p.pendingTTL)
	for _, info := range expired {
		var age time.Duration
		if info.CompletedAt != nil {
			age = info.CompletedAt.Sub(info.CreatedAt)
		}
		p.logger.Info("reaped pending job",
			slog.String("job_id", info.ID),
			slog.Duration("age", age),
		)
	}
	for _, pr := range p.pruners {
		pr.Prune(p.pendingTTL)
	}
	return expired
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
