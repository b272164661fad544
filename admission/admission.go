// Package admission decides whether a new job may be created.
//
// A [Controller] applies two gates, in order:
//
//   - a per-client token bucket keyed by the remote host;
//   - a global token bucket.
//
// Both refuse with [popgate.ErrRateLimited]. The cap on pending jobs is
// not an admission concern: the job registry enforces it atomically with
// insertion.
//
// Token buckets come from golang.org/x/time/rate. A zero rate disables the
// corresponding bucket. Client buckets idle for longer than the prune
// horizon are discarded by [Controller.Prune].
//
//	c := admission.New(admission.Config{ClientRate: 5, ClientBurst: 10})
//	if err := c.Admit(host); err != nil {
//	    // 429
//	}
package admission

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/popgate"
)

// Config holds admission limits.
type Config struct {
	// Rate is the sustained number of creations per second across all
	// clients. Zero disables the global bucket.
	Rate float64

	// Burst is the global bucket size. Defaults to 1 when Rate is set.
	Burst int

	// ClientRate is the sustained creations per second for one client.
	// Zero disables per-client buckets.
	ClientRate float64

	// ClientBurst is the per-client bucket size. Defaults to 1.
	ClientBurst int
}

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Controller enforces Config. It is safe for concurrent use.
type Controller struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	global  *rate.Limiter
	clients map[string]*clientState
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller for cfg.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*clientState),
	}
	if cfg.Rate > 0 {
		c.global = newLimiter(cfg.Rate, cfg.Burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newLimiter(r float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r), burst)
}

// Admit reports whether client may create a job now. The global token
// is only spent when the client's bucket allows the creation.
func (c *Controller) Admit(client string) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.ClientRate > 0 && client != "" {
		cs, ok := c.clients[client]
		if !ok {
			cs = &clientState{limiter: newLimiter(c.cfg.ClientRate, c.cfg.ClientBurst)}
			c.clients[client] = cs
		}
		cs.lastSeen = now
		if !cs.limiter.AllowN(now, 1) {
			return fmt.Errorf("client %s: %w", client, popgate.ErrRateLimited)
		}
	}
	if c.global != nil && !c.global.AllowN(now, 1) {
		return fmt.Errorf("global: %w", popgate.ErrRateLimited)
	}
	return nil
}

// Prune forgets client buckets not used within idle and returns how many
// were removed.
func (c *Controller) Prune(idle time.Duration) int {
	cutoff := c.now().Add(-idle)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for client, cs := range c.clients {
		if cs.lastSeen.Before(cutoff) {
			delete(c.clients, client)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked client buckets.
func (c *Controller) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
