package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/xraph/popgate/producer"
)

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("json", "debug"); err != nil {
		t.Errorf("json/debug: %v", err)
	}
	if _, err := newLogger("xml", "info"); err == nil {
		t.Error("unknown format accepted")
	}
	if _, err := newLogger("text", "loud"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestServeOptions_ProducerDefaultsToEcho(t *testing.T) {
	o := &serveOptions{}
	p, err := o.producer()
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	s, err := p.Start(context.Background(), producer.Input{Payload: []byte("ping")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var out bytes.Buffer
	for chunk := range s.Output {
		out.Write(chunk)
	}
	for range s.Errors {
	}
	if out.String() != "ping" {
		t.Errorf("output = %q, want %q", out.String(), "ping")
	}
}

func TestServeOptions_BadValidatePattern(t *testing.T) {
	o := &serveOptions{producerValidate: "("}
	if _, err := o.producer(); err == nil || !strings.Contains(err.Error(), "producer-validate") {
		t.Errorf("err = %v, want producer-validate error", err)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != "popgate "+version+"\n" {
		t.Errorf("output = %q", got)
	}
}

func TestServeFlagsDefaultToConfig(t *testing.T) {
	cmd := newServeCmd()
	if got, _ := cmd.Flags().GetString("addr"); got != ":80" {
		t.Errorf("addr = %q, want :80", got)
	}
	if got, _ := cmd.Flags().GetString("admin-addr"); got != "" {
		t.Errorf("admin-addr = %q, want empty", got)
	}
}
