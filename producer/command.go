package producer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Environment variables set for every command run.
const (
	EnvJobID       = "POPGATE_JOB_ID"
	EnvContentType = "POPGATE_CONTENT_TYPE"
)

const (
	stdoutChunk  = 4096
	stderrLimit  = 4096
	outputBuffer = 16
)

// Command runs an external program per job. The payload is written to the
// program's stdin and its stdout becomes the job's output.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// NewCommand creates a Command for the program at path.
func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

// Start launches the program. The process is killed when ctx is done.
func (c *Command) Start(ctx context.Context, in Input) (*Stream, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // operator-configured program
	cmd.Dir = c.Dir
	cmd.Env = append(append(os.Environ(), c.Env...),
		EnvJobID+"="+in.JobID,
		EnvContentType+"="+in.ContentType,
	)
	cmd.Stdin = bytes.NewReader(in.Payload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("producer: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("producer: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("producer: start %s: %w", c.Path, err)
	}

	out := make(chan []byte, outputBuffer)
	errs := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readChunks(stdout, out)
	}()
	go func() {
		defer wg.Done()
		if err := watchStderr(stderr); err != nil {
			errs <- err
		}
	}()

	go func() {
		// Pipes must be fully read before Wait closes them.
		wg.Wait()
		if err := cmd.Wait(); err != nil {
			errs <- fmt.Errorf("%w: %w", ErrExit, err)
		}
		close(out)
		close(errs)
	}()

	return &Stream{Output: out, Errors: errs}, nil
}

func readChunks(r io.Reader, out chan<- []byte) {
	buf := make([]byte, stdoutChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}

// watchStderr drains r and reports the first bytes seen, if any.
func watchStderr(r io.Reader) error {
	head, _ := io.ReadAll(io.LimitReader(r, stderrLimit)) //nolint:errcheck // a broken pipe ends the read
	_, _ = io.Copy(io.Discard, r)                          //nolint:errcheck // draining
	if len(head) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStderr, strings.TrimSpace(string(head)))
}
