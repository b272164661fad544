package relayhook

import "github.com/xraph/popgate/backoff"

// Option configures an Extension.
type Option func(*Extension)

// WithEvents restricts the extension to publish only the listed event
// types. By default every event type is published. Unknown types are
// silently ignored.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithRetry sets the delay strategy and the number of attempts made for
// each publish. maxAttempts below one means a single attempt.
func WithRetry(s backoff.Strategy, maxAttempts int) Option {
	return func(h *Extension) {
		h.strategy = s
		h.maxAttempts = max(maxAttempts, 1)
	}
}

// WithBuffer sets how many events may wait for publishing. Values below
// one mean an unbuffered queue: events are dropped unless the publishing
// goroutine is idle.
func WithBuffer(n int) Option {
	return func(h *Extension) { h.buffer = max(n, 0) }
}
