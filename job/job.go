package job

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/producer"
	"github.com/xraph/popgate/respond"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job waits for its continuation request.
	StatePending State = "pending"
	// StateActive means a response is attached and the producer runs.
	StateActive State = "active"
	// StateCompleted means the result was delivered or the job expired.
	StateCompleted State = "completed"
)

// Job correlates an identifier with a deferred response and the output
// of its producer.
type Job struct {
	id        string
	registry  *Registry
	createdAt time.Time

	// counted is guarded by the registry lock and marks a job holding a
	// slot under the pending cap.
	counted bool

	mu          sync.Mutex
	state       State
	sink        http.ResponseWriter
	contentType string
	attachedAt  time.Time
	completedAt time.Time
	status      int
	lastError   string
	result      bytes.Buffer
	listeners   []*listener
}

// Info is a point-in-time snapshot of a job.
type Info struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	ContentType string     `json:"content_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	AttachedAt  *time.Time `json:"attached_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      int        `json:"status,omitempty"`
	ResultBytes int        `json:"result_bytes"`
	LastError   string     `json:"last_error,omitempty"`
}

func newJob(id string, r *Registry, now time.Time) *Job {
	return &Job{
		id:        id,
		registry:  r,
		createdAt: now,
		state:     StatePending,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// CreatedAt returns when the job was created.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns a copy of the output accumulated so far.
func (j *Job) Result() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return bytes.Clone(j.result.Bytes())
}

// Info returns a snapshot of the job.
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := Info{
		ID:          j.id,
		State:       j.state,
		ContentType: j.contentType,
		CreatedAt:   j.createdAt,
		Status:      j.status,
		ResultBytes: j.result.Len(),
		LastError:   j.lastError,
	}
	if !j.attachedAt.IsZero() {
		t := j.attachedAt
		info.AttachedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		info.CompletedAt = &t
	}
	return info
}

// Attach hands the job the response it will answer on. It fails with
// ErrResponseConflict unless the job is pending, leaving any attached
// response untouched.
func (j *Job) Attach(ctx context.Context, sink http.ResponseWriter) error {
	j.mu.Lock()
	if st := j.state; st != StatePending {
		j.mu.Unlock()
		return fmt.Errorf("job %s is %s: %w", j.id, st, popgate.ErrResponseConflict)
	}
	j.sink = sink
	j.state = StateActive
	j.attachedAt = j.registry.now()
	j.mu.Unlock()

	j.registry.leavePending(j)
	j.fire(ctx, Notice{Event: EventAttached})
	return nil
}

// Deliver writes payload as the job's result with the given status,
// finalizes the response, and removes the job from its registry. The
// job is completed and removed even when the write fails. A second call
// returns ErrNoResponse.
func (j *Job) Deliver(ctx context.Context, payload []byte, code int, msg string) error {
	return j.deliver(ctx, payload, code, msg, nil)
}

func (j *Job) deliver(ctx context.Context, payload []byte, code int, msg string, cause error) error {
	j.mu.Lock()
	if j.state != StateActive || j.sink == nil {
		j.mu.Unlock()
		return popgate.ErrNoResponse
	}
	sink := j.sink
	j.sink = nil
	j.mu.Unlock()

	r := respond.New(sink, j.registry.respondOpts...)
	writeErr := r.SendBytes(payload, code, msg)

	j.mu.Lock()
	j.state = StateCompleted
	j.completedAt = j.registry.now()
	j.status = r.Status()
	if cause != nil {
		j.lastError = cause.Error()
	}
	elapsed := j.completedAt.Sub(j.attachedAt)
	status := j.status
	j.mu.Unlock()

	j.registry.Remove(j.id)

	// The request context may already be cancelled by a departed client;
	// terminal events still need to reach their observers.
	ctx = context.WithoutCancel(ctx)
	if status >= http.StatusInternalServerError {
		if cause == nil {
			cause = fmt.Errorf("job %s finished with status %d", j.id, status)
		}
		j.fire(ctx, Notice{Event: EventFailed, Err: cause, Status: status, Elapsed: elapsed})
	} else {
		j.fire(ctx, Notice{Event: EventCompleted, Status: status, Elapsed: elapsed})
	}
	j.fire(ctx, Notice{Event: EventStop, Status: status, Elapsed: elapsed})

	if writeErr != nil {
		return fmt.Errorf("job %s: deliver: %w", j.id, writeErr)
	}
	return nil
}

// Run starts p, accumulates its output, and delivers the result: 200 with
// the output on a clean finish, 500 with the fault text on any producer
// fault. The job must be active. The returned error wraps ErrProducerFault
// when the producer failed.
func (j *Job) Run(ctx context.Context, p producer.Producer, in producer.Input) error {
	j.mu.Lock()
	if j.state != StateActive {
		j.mu.Unlock()
		return popgate.ErrNoResponse
	}
	j.contentType = in.ContentType
	j.mu.Unlock()

	if in.JobID == "" {
		in.JobID = j.id
	}

	if fault := j.consume(ctx, p, in); fault != nil {
		err := fmt.Errorf("job %s: %w: %w", j.id, popgate.ErrProducerFault, fault)
		_ = j.deliver(ctx, []byte(fault.Error()), http.StatusInternalServerError, "", err) //nolint:errcheck // the fault is what we report
		return err
	}

	result := j.Result()
	if len(result) == 0 {
		result = []byte("job " + j.id + " finished.")
	}
	return j.deliver(ctx, result, http.StatusOK, "", nil)
}

// consume drains the producer stream. The first fault cancels the
// producer; output after a fault is discarded.
func (j *Job) consume(ctx context.Context, p producer.Producer, in producer.Input) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := p.Start(ctx, in)
	if err != nil {
		return err
	}
	// A panicking output handler unwinds past the loop below; the stream
	// must still be read to the end so the producer can exit and be reaped.
	defer func() {
		cancel()
		for range s.Output {
		}
		for range s.Errors {
		}
	}()

	var fault error
	output, faults, done := s.Output, s.Errors, ctx.Done()
	for output != nil || faults != nil {
		select {
		case chunk, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			if fault != nil {
				continue
			}
			j.mu.Lock()
			j.result.Write(chunk)
			j.mu.Unlock()
			j.fire(ctx, Notice{Event: EventOutput, Data: chunk})
		case err, ok := <-faults:
			if !ok {
				faults = nil
				continue
			}
			if err != nil && fault == nil {
				fault = err
				cancel()
			}
		case <-done:
			done = nil
			if fault == nil {
				fault = ctx.Err()
			}
		}
	}
	return fault
}

// expire completes a pending job without a response. It reports whether
// the job was pending.
func (j *Job) expire(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return false
	}
	j.state = StateCompleted
	j.completedAt = now
	j.lastError = "expired"
	return true
}
