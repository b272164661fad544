package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/middleware"
	"github.com/xraph/popgate/producer"
	"github.com/xraph/popgate/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func activeJob(t *testing.T, reg *job.Registry) (*job.Job, *httptest.ResponseRecorder) {
	t.Helper()
	j, err := reg.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	resp := httptest.NewRecorder()
	if err := j.Attach(context.Background(), resp); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return j, resp
}

// gate is a producer that blocks until released.
type gate struct {
	started chan struct{}
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 64), release: make(chan struct{})}
}

func (g *gate) producer() producer.Producer {
	return producer.Func(func(ctx context.Context, _ producer.Input, out chan<- []byte) error {
		n := g.running.Add(1)
		defer g.running.Add(-1)
		for {
			p := g.peak.Load()
			if n <= p || g.peak.CompareAndSwap(p, n) {
				break
			}
		}
		g.started <- struct{}{}
		select {
		case <-g.release:
			out <- []byte("done")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// ──────────────────────────────────────────────────
// Executor
// ──────────────────────────────────────────────────

func TestExecutor_RunsThroughMiddleware(t *testing.T) {
	reg := job.NewRegistry()
	j, resp := activeJob(t, reg)

	var order []string
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "before")
		err := next(ctx)
		order = append(order, "after")
		return err
	}
	exec := worker.NewExecutor(producer.Echo(), slog.Default(), mw)

	if err := exec.Execute(context.Background(), j, producer.Input{Payload: []byte("hi")}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Body.String() != "hi" {
		t.Errorf("body = %q, want %q", resp.Body.String(), "hi")
	}
	if len(order) != 2 || order[0] != "before" || order[1] != "after" {
		t.Errorf("order = %v", order)
	}
}

func TestExecutor_AnswersAfterPanic(t *testing.T) {
	reg := job.NewRegistry()
	j, resp := activeJob(t, reg)

	boom := func(_ context.Context, _ *job.Job, _ middleware.Handler) error {
		panic("kaboom")
	}
	exec := worker.NewExecutor(producer.Echo(), slog.Default(), middleware.Recover(slog.Default()), boom)

	err := exec.Execute(context.Background(), j, producer.Input{})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v, want panic error", err)
	}
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Code = %d, want 500", resp.Code)
	}
	if reg.Contains(j.ID()) {
		t.Error("job still registered")
	}
}

func TestExecutor_ShortCircuitIsFault(t *testing.T) {
	reg := job.NewRegistry()
	j, resp := activeJob(t, reg)

	skip := func(context.Context, *job.Job, middleware.Handler) error { return nil }
	exec := worker.NewExecutor(producer.Echo(), slog.Default(), skip)

	err := exec.Execute(context.Background(), j, producer.Input{})
	if !errors.Is(err, popgate.ErrProducerFault) {
		t.Errorf("err = %v, want ErrProducerFault", err)
	}
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Code = %d, want 500", resp.Code)
	}
}

// ──────────────────────────────────────────────────
// Pool
// ──────────────────────────────────────────────────

func TestPool_StartStop(t *testing.T) {
	reg := job.NewRegistry()
	pool := worker.NewPool(reg, worker.NewExecutor(producer.Echo(), slog.Default()), slog.Default())

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	reg := job.NewRegistry()
	g := newGate()
	pool := worker.NewPool(reg, worker.NewExecutor(g.producer(), slog.Default()), slog.Default(),
		worker.WithPoolConcurrency(2),
	)

	const n = 5
	var wg sync.WaitGroup
	for range n {
		j, _ := activeJob(t, reg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Run(context.Background(), j, producer.Input{})
		}()
	}

	<-g.started
	<-g.started
	select {
	case <-g.started:
		t.Fatal("third producer started while two slots are taken")
	case <-time.After(50 * time.Millisecond):
	}
	if got := pool.Stats().Active; got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}

	close(g.release)
	wg.Wait()
	if peak := g.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
}

func TestPool_WaitCancelledAnswers503(t *testing.T) {
	reg := job.NewRegistry()
	g := newGate()
	pool := worker.NewPool(reg, worker.NewExecutor(g.producer(), slog.Default()), slog.Default(),
		worker.WithPoolConcurrency(1),
	)

	busy, _ := activeJob(t, reg)
	go func() { _ = pool.Run(context.Background(), busy, producer.Input{}) }()
	<-g.started

	waiting, resp := activeJob(t, reg)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Run(ctx, waiting, producer.Input{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d, want 503", resp.Code)
	}
	if reg.Contains(waiting.ID()) {
		t.Error("refused job still registered")
	}
	close(g.release)
}

func TestPool_RunAfterStop(t *testing.T) {
	reg := job.NewRegistry()
	pool := worker.NewPool(reg, worker.NewExecutor(producer.Echo(), slog.Default()), slog.Default())
	_ = pool.Stop(context.Background())

	j, resp := activeJob(t, reg)
	if err := pool.Run(context.Background(), j, producer.Input{}); !errors.Is(err, popgate.ErrPoolClosed) {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d, want 503", resp.Code)
	}
}

func TestPool_StopCancelsActiveRuns(t *testing.T) {
	reg := job.NewRegistry()
	g := newGate()
	pool := worker.NewPool(reg, worker.NewExecutor(g.producer(), slog.Default()), slog.Default())
	_ = pool.Start(context.Background())

	j, resp := activeJob(t, reg)
	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background(), j, producer.Input{}) }()
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run err = %v, want context.Canceled", err)
	}
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Code = %d, want 500", resp.Code)
	}
}

// ──────────────────────────────────────────────────
// Reaper
// ──────────────────────────────────────────────────

type countingPruner struct{ calls atomic.Int32 }

func (p *countingPruner) Prune(time.Duration) int {
	p.calls.Add(1)
	return 0
}

func TestPool_ReapExpiresPending(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := job.NewRegistry(job.WithClock(clock.Now))
	pruner := &countingPruner{}
	pool := worker.NewPool(reg, worker.NewExecutor(producer.Echo(), slog.Default()), slog.Default(),
		worker.WithPendingTTL(time.Minute),
		worker.WithPruner(pruner),
	)

	stale, _ := reg.Create(context.Background())
	active, _ := activeJob(t, reg)
	clock.Advance(2 * time.Minute)
	fresh, _ := reg.Create(context.Background())

	expired := pool.Reap(context.Background())
	if len(expired) != 1 || expired[0].ID != stale.ID() {
		t.Fatalf("Reap = %v, want only %s", expired, stale.ID())
	}
	if !reg.Contains(active.ID()) || !reg.Contains(fresh.ID()) {
		t.Error("active or fresh job reaped")
	}
	if pruner.calls.Load() != 1 {
		t.Errorf("pruner calls = %d, want 1", pruner.calls.Load())
	}
}

func TestPool_ReaperLoop(t *testing.T) {
	reg := job.NewRegistry()
	pool := worker.NewPool(reg, worker.NewExecutor(producer.Echo(), slog.Default()), slog.Default(),
		worker.WithPendingTTL(time.Nanosecond),
		worker.WithReapInterval(5*time.Millisecond),
	)
	j, _ := reg.Create(context.Background())

	_ = pool.Start(context.Background())
	defer func() { _ = pool.Stop(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Contains(j.ID()) {
		if time.Now().After(deadline) {
			t.Fatal("reaper did not evict the pending job")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
