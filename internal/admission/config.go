package admission

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	defaultCapacity      = 100
	defaultWindow        = time.Minute
	defaultRetryAfter    = 60 * time.Second
	defaultIdleTTL       = 10 * time.Minute
	defaultSweepInterval = time.Minute
)

// Config is supplied by the host process; the controller itself holds no policy.
type Config struct {
	Enabled bool
	// Capacity is both the bucket size and the number of permits refilled per Window.
	Capacity int
	// Window of zero disables refill.
	Window time.Duration
	// Exclude lists path globs that bypass admission. A trailing "/**" matches a subtree.
	Exclude       []string
	RetryAfter    time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns an enabled configuration of 100 requests per minute.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Capacity:      defaultCapacity,
		Window:        defaultWindow,
		RetryAfter:    defaultRetryAfter,
		IdleTTL:       defaultIdleTTL,
		SweepInterval: defaultSweepInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.RetryAfter <= 0 {
		c.RetryAfter = defaultRetryAfter
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = defaultIdleTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// Validate rejects configurations the controller cannot enforce.
func (c Config) Validate() error {
	if c.Enabled && c.Capacity <= 0 {
		return errors.New("admission: capacity must be positive")
	}
	if c.Window < 0 {
		return errors.New("admission: window must not be negative")
	}
	for _, p := range c.Exclude {
		glob := strings.TrimSuffix(strings.TrimSpace(p), "/**")
		if glob == "" {
			continue
		}
		if _, err := path.Match(glob, ""); err != nil {
			return fmt.Errorf("admission: bad exclude pattern %q: %w", p, err)
		}
	}
	return nil
}

type matcher struct {
	exact   []string
	subtree []string
}

func newMatcher(patterns []string) matcher {
	var m matcher
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/**") {
			m.subtree = append(m.subtree, strings.TrimSuffix(p, "/**"))
			continue
		}
		m.exact = append(m.exact, p)
	}
	return m
}

func (m matcher) match(urlPath string) bool {
	for _, root := range m.subtree {
		if root == "" {
			return true
		}
		// walk ancestors so globbed roots like /api/*/public/** work too
		for p := urlPath; p != "/" && p != "." && p != ""; p = path.Dir(p) {
			if ok, _ := path.Match(root, p); ok {
				return true
			}
		}
	}
	for _, glob := range m.exact {
		if ok, _ := path.Match(glob, urlPath); ok {
			return true
		}
	}
	return false
}
