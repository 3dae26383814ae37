// Package admission gates inbound requests with a per-client token bucket.
//
// Clients are identified by network address as reported by the fronting
// proxy (see ClientKey). The controller assumes a trusted reverse proxy
// terminates external traffic; without one, forwarded headers can be forged.
package admission

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/obs"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64
}

// Controller owns the bucket table. The table lock guards structure only;
// each limiter serializes its own key.
type Controller struct {
	cfg     Config
	limit   rate.Limit
	exclude matcher
	now     func() time.Time
	log     *zap.Logger

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithLogger sets the logger for rejections and sweeps.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a controller for cfg.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:     cfg,
		exclude: newMatcher(cfg.Exclude),
		now:     time.Now,
		log:     zap.NewNop(),
		buckets: make(map[string]*bucket),
	}
	if cfg.Window > 0 {
		c.limit = rate.Limit(float64(cfg.Capacity) / cfg.Window.Seconds())
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Admit consumes one permit from key's bucket, creating the bucket on first use.
func (c *Controller) Admit(key string) bool {
	now := c.now()
	b := c.bucket(key, now)
	b.lastSeen.Store(now.UnixNano())
	return b.lim.AllowN(now, 1)
}

func (c *Controller) bucket(key string, now time.Time) *bucket {
	c.mu.RLock()
	b, ok := c.buckets[key]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok = c.buckets[key]; ok {
		return b
	}
	b = &bucket{lim: rate.NewLimiter(c.limit, c.cfg.Capacity)}
	b.lastSeen.Store(now.UnixNano())
	c.buckets[key] = b
	obs.SetAdmissionBuckets(len(c.buckets))
	return b
}

// Len reports how many client buckets are held.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buckets)
}

// Sweep drops buckets idle for longer than the configured IdleTTL and
// returns how many were removed.
func (c *Controller) Sweep(now time.Time) int {
	cutoff := now.Add(-c.cfg.IdleTTL).UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, b := range c.buckets {
		if b.lastSeen.Load() < cutoff {
			delete(c.buckets, key)
			removed++
		}
	}
	obs.SetAdmissionBuckets(len(c.buckets))
	return removed
}

// Run sweeps idle buckets every SweepInterval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				c.log.Debug("admission buckets evicted", zap.Int("evicted", n), zap.Int("remaining", c.Len()))
			}
		}
	}
}

func (c *Controller) retryAfterSeconds() int {
	return int(math.Ceil(c.cfg.RetryAfter.Seconds()))
}
