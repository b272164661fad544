// Package producer runs the work behind a job and streams its output.
//
// A Producer is started once per job. It reports raw output chunks on
// Stream.Output and faults on Stream.Errors, and closes both channels when
// it terminates. Any value on Errors means the run failed.
package producer

import (
	"context"
	"errors"
)

var (
	// ErrStderr reports that the process wrote to its error stream.
	ErrStderr = errors.New("producer: stderr output")

	// ErrExit reports that the process exited abnormally.
	ErrExit = errors.New("producer: abnormal exit")

	// ErrMalformedOutput reports output that does not have the expected shape.
	ErrMalformedOutput = errors.New("producer: malformed output")
)

// Input is what a job hands to its producer.
type Input struct {
	JobID       string
	ContentType string
	Payload     []byte
}

// Stream carries a running producer's output. Both channels are closed by
// the producer when it is done.
type Stream struct {
	Output <-chan []byte
	Errors <-chan error
}

// Producer starts the work for one job.
type Producer interface {
	Start(ctx context.Context, in Input) (*Stream, error)
}

// Func adapts a function to Producer. The function writes output chunks to
// out and returns when done; a non-nil return is reported on Errors.
type Func func(ctx context.Context, in Input, out chan<- []byte) error

// Start runs f in its own goroutine.
func (f Func) Start(ctx context.Context, in Input) (*Stream, error) {
	out := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		err := f(ctx, in, out)
		close(out)
		if err != nil {
			errs <- err
		}
		close(errs)
	}()
	return &Stream{Output: out, Errors: errs}, nil
}

// Echo returns the payload unchanged. It is the producer used when no
// command is configured.
func Echo() Producer {
	return Func(func(ctx context.Context, in Input, out chan<- []byte) error {
		if len(in.Payload) == 0 {
			return nil
		}
		select {
		case out <- in.Payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
