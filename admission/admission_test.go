package admission_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/admission"
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

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// ──────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────

func TestAdmit_Unlimited(t *testing.T) {
	c := admission.New(admission.Config{})
	for range 1000 {
		if err := c.Admit("10.0.0.1"); err != nil {
			t.Fatalf("Admit = %v, want nil", err)
		}
	}
	if c.Clients() != 0 {
		t.Errorf("Clients = %d, want 0 without per-client limits", c.Clients())
	}
}

func TestAdmit_ClientBucket(t *testing.T) {
	clock := newClock()
	c := admission.New(admission.Config{ClientRate: 1, ClientBurst: 2}, admission.WithClock(clock.Now))

	for i := range 2 {
		if err := c.Admit("a"); err != nil {
			t.Fatalf("Admit #%d = %v", i, err)
		}
	}
	if err := c.Admit("a"); !errors.Is(err, popgate.ErrRateLimited) {
		t.Errorf("third Admit = %v, want ErrRateLimited", err)
	}
	if err := c.Admit("b"); err != nil {
		t.Errorf("other client Admit = %v, want nil", err)
	}

	clock.Advance(time.Second)
	if err := c.Admit("a"); err != nil {
		t.Errorf("Admit after refill = %v, want nil", err)
	}
}

func TestAdmit_GlobalBucket(t *testing.T) {
	clock := newClock()
	c := admission.New(admission.Config{Rate: 1, Burst: 1}, admission.WithClock(clock.Now))

	if err := c.Admit("a"); err != nil {
		t.Fatalf("first Admit = %v", err)
	}
	if err := c.Admit("b"); !errors.Is(err, popgate.ErrRateLimited) {
		t.Errorf("second Admit = %v, want ErrRateLimited", err)
	}
}

func TestAdmit_ClientRefusalSpendsNoGlobalToken(t *testing.T) {
	clock := newClock()
	c := admission.New(admission.Config{Rate: 1, Burst: 2, ClientRate: 1, ClientBurst: 1}, admission.WithClock(clock.Now))

	if err := c.Admit("a"); err != nil {
		t.Fatalf("Admit(a) = %v", err)
	}
	if err := c.Admit("a"); !errors.Is(err, popgate.ErrRateLimited) {
		t.Fatalf("second Admit(a) = %v, want ErrRateLimited", err)
	}
	if err := c.Admit("b"); err != nil {
		t.Errorf("Admit(b) = %v, want nil; the refused client spent a global token", err)
	}
	if err := c.Admit("c"); !errors.Is(err, popgate.ErrRateLimited) {
		t.Errorf("Admit(c) = %v, want ErrRateLimited once the global bucket is spent", err)
	}
}

// ──────────────────────────────────────────────────
// Prune
// ──────────────────────────────────────────────────

func TestPrune_DropsIdleClients(t *testing.T) {
	clock := newClock()
	c := admission.New(admission.Config{ClientRate: 10}, admission.WithClock(clock.Now))

	_ = c.Admit("old")
	clock.Advance(10 * time.Minute)
	_ = c.Admit("new")

	if removed := c.Prune(5 * time.Minute); removed != 1 {
		t.Errorf("Prune = %d, want 1", removed)
	}
	if c.Clients() != 1 {
		t.Errorf("Clients = %d, want 1", c.Clients())
	}
}
