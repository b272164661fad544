package producer

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
)

// Validate wraps p so that every non-empty output line must match
// pattern. The first mismatch is reported as ErrMalformedOutput; output is
// still forwarded unchanged.
func Validate(p Producer, pattern *regexp.Regexp) Producer {
	return &validated{inner: p, pattern: pattern}
}

type validated struct {
	inner   Producer
	pattern *regexp.Regexp
}

func (v *validated) Start(ctx context.Context, in Input) (*Stream, error) {
	s, err := v.inner.Start(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, outputBuffer)
	errs := make(chan error, 4)

	go func() {
		defer close(errs)
		defer close(out)

		var (
			line   []byte
			failed bool
			lineNo int
		)
		check := func(l []byte) {
			lineNo++
			l = bytes.TrimRight(l, "\r")
			if failed || len(l) == 0 || v.pattern.Match(l) {
				return
			}
			failed = true
			errs <- fmt.Errorf("%w: line %d: %q", ErrMalformedOutput, lineNo, truncate(l, 80))
		}

		output, faults := s.Output, s.Errors
		for output != nil || faults != nil {
			select {
			case chunk, ok := <-output:
				if !ok {
					output = nil
					if len(line) > 0 {
						check(line)
					}
					continue
				}
				out <- chunk
				line = append(line, chunk...)
				for {
					i := bytes.IndexByte(line, '\n')
					if i < 0 {
						break
					}
					check(line[:i])
					line = line[i+1:]
				}
			case err, ok := <-faults:
				if !ok {
					faults = nil
					continue
				}
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()

	return &Stream{Output: out, Errors: errs}, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
