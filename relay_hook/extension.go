package relayhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/popgate/backoff"
	"github.com/xraph/popgate/ext"
	"github.com/xraph/popgate/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobCreated   = (*Extension)(nil)
	_ ext.JobAttached  = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobExpired   = (*Extension)(nil)
	_ ext.Shutdown     = (*Extension)(nil)
)

// Message is the JSON document published for each event.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Job       *job.Info `json:"job,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// DefaultBuffer is the number of events queued for publishing before new
// events are dropped.
const DefaultBuffer = 1024

// ErrClosed is returned for events sent after OnShutdown.
var ErrClosed = errors.New("relayhook: closed")

type envelope struct {
	eventType string
	payload   []byte
}

// Extension publishes popgate lifecycle events through a Publisher.
//
// Hooks only encode and enqueue; a single background goroutine publishes
// in order and retries failures. A slow or unreachable broker therefore
// never delays the request that caused the event. When the queue is full
// the event is dropped and counted.
type Extension struct {
	pub         Publisher
	logger      *slog.Logger
	enabled     map[string]bool // nil = all enabled
	strategy    backoff.Strategy
	maxAttempts int
	buffer      int
	now         func() time.Time

	queue  chan envelope
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	shutdown sync.Once

	dropped atomic.Int64
	failed  atomic.Int64
}

// New creates an Extension publishing through pub and starts its
// publishing goroutine. OnShutdown stops it.
func New(pub Publisher, logger *slog.Logger, opts ...Option) *Extension {
	h := &Extension{
		pub:         pub,
		logger:      logger,
		strategy:    backoff.DefaultStrategy(),
		maxAttempts: 3,
		buffer:      DefaultBuffer,
		now:         func() time.Time { return time.Now().UTC() },
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.queue = make(chan envelope, h.buffer)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	go h.run()
	return h
}

// Dropped returns how many events were discarded because the queue was
// full or the extension was shutting down.
func (h *Extension) Dropped() int64 { return h.dropped.Load() }

// Failed returns how many events were abandoned after exhausting their
// publish attempts.
func (h *Extension) Failed() int64 { return h.failed.Load() }

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// OnJobCreated implements ext.JobCreated.
func (h *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	return h.send(ctx, &Message{Type: EventJobCreated, Job: info(j)})
}

// OnJobAttached implements ext.JobAttached.
func (h *Extension) OnJobAttached(ctx context.Context, j *job.Job) error {
	return h.send(ctx, &Message{Type: EventJobAttached, Job: info(j)})
}

// OnJobCompleted implements ext.JobCompleted.
func (h *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.send(ctx, &Message{Type: EventJobCompleted, Job: info(j), ElapsedMs: elapsed.Milliseconds()})
}

// OnJobFailed implements ext.JobFailed.
func (h *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.send(ctx, &Message{Type: EventJobFailed, Job: info(j), Error: jobErr.Error()})
}

// OnJobExpired implements ext.JobExpired.
func (h *Extension) OnJobExpired(ctx context.Context, j *job.Job, age time.Duration) error {
	return h.send(ctx, &Message{Type: EventJobExpired, Job: info(j), ElapsedMs: age.Milliseconds()})
}

// OnShutdown implements ext.Shutdown. It queues the shutdown event, stops
// accepting events and waits for the queue to drain. When ctx ends first,
// in-flight retries are abandoned and the remaining events dropped.
func (h *Extension) OnShutdown(ctx context.Context) error {
	var err error
	h.shutdown.Do(func() {
		if env, ok, encErr := h.encode(&Message{Type: EventShutdown}); encErr != nil {
			h.logger.Warn("relay encode failed", slog.String("error", encErr.Error()))
		} else if ok {
			select {
			case h.queue <- env:
			case <-ctx.Done():
				h.dropped.Add(1)
			}
		}

		h.mu.Lock()
		h.closed = true
		close(h.queue)
		h.mu.Unlock()

		select {
		case <-h.done:
			h.cancel()
		case <-ctx.Done():
			h.cancel()
			<-h.done
			err = fmt.Errorf("relayhook: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func info(j *job.Job) *job.Info {
	i := j.Info()
	return &i
}

// encode stamps and marshals msg. ok is false when its type is filtered
// out.
func (h *Extension) encode(msg *Message) (env envelope, ok bool, err error) {
	if h.enabled != nil && !h.enabled[msg.Type] {
		return envelope{}, false, nil
	}
	msg.Timestamp = h.now()
	payload, err := json.Marshal(msg)
	if err != nil {
		return envelope{}, false, fmt.Errorf("relayhook: encode %s: %w", msg.Type, err)
	}
	return envelope{eventType: msg.Type, payload: payload}, true, nil
}

// send enqueues msg without blocking.
func (h *Extension) send(_ context.Context, msg *Message) error {
	env, ok, err := h.encode(msg)
	if err != nil || !ok {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return fmt.Errorf("%w: dropped %s", ErrClosed, msg.Type)
	}
	select {
	case h.queue <- env:
		return nil
	default:
		h.dropped.Add(1)
		return fmt.Errorf("relayhook: queue full, dropped %s", msg.Type)
	}
}

func (h *Extension) run() {
	defer close(h.done)
	for env := range h.queue {
		if h.ctx.Err() != nil {
			h.dropped.Add(1)
			continue
		}
		h.publish(env)
	}
}

// publish sends one event, retrying failed attempts.
func (h *Extension) publish(env envelope) {
	attempt := 0
	err := backoff.Retry(h.ctx, h.strategy, h.maxAttempts, func(ctx context.Context) error {
		attempt++
		if err := h.pub.Publish(ctx, env.eventType, env.payload); err != nil {
			h.logger.Debug("relay publish failed",
				slog.String("event", env.eventType),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	})
	if err != nil {
		h.failed.Add(1)
		h.logger.Warn("relay event abandoned",
			slog.String("event", env.eventType),
			slog.String("error", err.Error()),
		)
	}
}
