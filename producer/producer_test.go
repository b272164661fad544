package producer_test

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/xraph/popgate/producer"
)

func collect(t *testing.T, s *producer.Stream) (string, []error) {
	t.Helper()
	var (
		out  strings.Builder
		errs []error
	)
	output, faults := s.Output, s.Errors
	timeout := time.After(5 * time.Second)
	for output != nil || faults != nil {
		select {
		case chunk, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			out.Write(chunk)
		case err, ok := <-faults:
			if !ok {
				faults = nil
				continue
			}
			errs = append(errs, err)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
	return out.String(), errs
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// ──────────────────────────────────────────────────
// Func / Echo
// ──────────────────────────────────────────────────

func TestFunc_StreamsAndCloses(t *testing.T) {
	p := producer.Func(func(_ context.Context, in producer.Input, out chan<- []byte) error {
		out <- []byte("hello ")
		out <- []byte(in.JobID)
		return nil
	})
	s, err := p.Start(context.Background(), producer.Input{JobID: "j1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, errs := collect(t, s)
	if got != "hello j1" {
		t.Errorf("output = %q, want %q", got, "hello j1")
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestFunc_ReportsError(t *testing.T) {
	boom := errors.New("boom")
	p := producer.Func(func(context.Context, producer.Input, chan<- []byte) error { return boom })
	s, _ := p.Start(context.Background(), producer.Input{})
	_, errs := collect(t, s)
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("errors = %v, want [boom]", errs)
	}
}

func TestEcho(t *testing.T) {
	s, _ := producer.Echo().Start(context.Background(), producer.Input{Payload: []byte("abc")})
	got, errs := collect(t, s)
	if got != "abc" || len(errs) != 0 {
		t.Errorf("got %q %v, want %q no errors", got, errs, "abc")
	}
}

// ──────────────────────────────────────────────────
// Command
// ──────────────────────────────────────────────────

func TestCommand_StdinToStdout(t *testing.T) {
	requireShell(t)
	c := producer.NewCommand("sh", "-c", `cat; printf ":%s:%s" "$POPGATE_JOB_ID" "$POPGATE_CONTENT_TYPE"`)
	s, err := c.Start(context.Background(), producer.Input{
		JobID:       "abc",
		ContentType: "text/plain",
		Payload:     []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, errs := collect(t, s)
	if got != "payload:abc:text/plain" {
		t.Errorf("output = %q", got)
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
}

func TestCommand_StderrIsFault(t *testing.T) {
	requireShell(t)
	c := producer.NewCommand("sh", "-c", "echo partial; echo device busy >&2")
	s, _ := c.Start(context.Background(), producer.Input{})
	_, errs := collect(t, s)
	if len(errs) == 0 || !errors.Is(errs[0], producer.ErrStderr) {
		t.Fatalf("errors = %v, want ErrStderr", errs)
	}
	if !strings.Contains(errs[0].Error(), "device busy") {
		t.Errorf("error = %q, want stderr text", errs[0])
	}
}

func TestCommand_NonZeroExitIsFault(t *testing.T) {
	requireShell(t)
	s, _ := producer.NewCommand("sh", "-c", "exit 3").Start(context.Background(), producer.Input{})
	_, errs := collect(t, s)
	if len(errs) != 1 || !errors.Is(errs[0], producer.ErrExit) {
		t.Errorf("errors = %v, want [ErrExit]", errs)
	}
}

func TestCommand_MissingProgram(t *testing.T) {
	_, err := producer.NewCommand("/definitely/not/here").Start(context.Background(), producer.Input{})
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestCommand_ContextKills(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := producer.NewCommand("sh", "-c", "sleep 30").Start(ctx, producer.Input{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	_, errs := collect(t, s)
	if len(errs) == 0 {
		t.Error("expected an exit error after cancellation")
	}
}

// ──────────────────────────────────────────────────
// Validate
// ──────────────────────────────────────────────────

func lines(chunks ...string) producer.Producer {
	return producer.Func(func(_ context.Context, _ producer.Input, out chan<- []byte) error {
		for _, c := range chunks {
			out <- []byte(c)
		}
		return nil
	})
}

func TestValidate_AcceptsMatchingLines(t *testing.T) {
	p := producer.Validate(lines("device `a' is ", "ok\ndevice `b' is ok\n\n"), regexp.MustCompile("^device `[a-z]+' is ok$"))
	s, _ := p.Start(context.Background(), producer.Input{})
	got, errs := collect(t, s)
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
	if got != "device `a' is ok\ndevice `b' is ok\n\n" {
		t.Errorf("output = %q", got)
	}
}

func TestValidate_RejectsShape(t *testing.T) {
	p := producer.Validate(lines("ok\n", "garbage"), regexp.MustCompile(`^ok$`))
	s, _ := p.Start(context.Background(), producer.Input{})
	_, errs := collect(t, s)
	if len(errs) != 1 || !errors.Is(errs[0], producer.ErrMalformedOutput) {
		t.Errorf("errors = %v, want [ErrMalformedOutput]", errs)
	}
}

func TestValidate_ForwardsInnerErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := producer.Func(func(context.Context, producer.Input, chan<- []byte) error { return boom })
	s, _ := producer.Validate(inner, regexp.MustCompile(".*")).Start(context.Background(), producer.Input{})
	_, errs := collect(t, s)
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("errors = %v, want [boom]", errs)
	}
}
