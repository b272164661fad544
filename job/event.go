package job

import (
	"context"
	"time"
)

// Event names a job lifecycle transition.
type Event string

const (
	EventCreated   Event = "created"
	EventAttached  Event = "attached"
	EventOutput    Event = "output"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
	EventExpired   Event = "expired"

	// EventStop fires after every terminal transition (completed, failed
	// or expired).
	EventStop Event = "stop"
)

// Notice describes one fired event.
type Notice struct {
	Event Event
	Job   *Job

	// Data is the output chunk for EventOutput.
	Data []byte

	// Err is the fault for EventFailed.
	Err error

	// Status is the HTTP status the job was finalized with.
	Status int

	// Elapsed is the time since attach for completed/failed jobs and the
	// job's age for expired ones.
	Elapsed time.Duration
}

// Handler observes job events.
type Handler func(ctx context.Context, n Notice)

type listener struct {
	event Event
	fn    Handler
	once  bool
	fired bool
}

// On registers fn for event on this job only.
func (j *Job) On(event Event, fn Handler) {
	j.listen(event, fn, false)
}

// Once registers fn for the first occurrence of event on this job.
func (j *Job) Once(event Event, fn Handler) {
	j.listen(event, fn, true)
}

func (j *Job) listen(event Event, fn Handler, once bool) {
	j.mu.Lock()
	j.listeners = append(j.listeners, &listener{event: event, fn: fn, once: once})
	j.mu.Unlock()
}

// fire calls every listener for n.Event. It must not be called with j.mu
// held.
func (j *Job) fire(ctx context.Context, n Notice) {
	n.Job = j

	j.mu.Lock()
	var fns []Handler
	for _, l := range j.listeners {
		if l.event != n.Event || (l.once && l.fired) {
			continue
		}
		l.fired = true
		fns = append(fns, l.fn)
	}
	j.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, n)
	}
}
