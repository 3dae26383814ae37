// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/admission"
)

// Refresh token backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds everything cmd/api needs to wire the service.
type Config struct {
	Addr        string
	Env         string
	LogLevel    string
	PostgresDSN string
	RedisAddr   string

	RefreshBackend string

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Admission admission.Config

	AuditAsyncBuffer int
	SentryDSN        string
}

// Development reports whether the service runs outside production.
func (c Config) Development() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// LoadDotEnv loads the given files (default .env) into the environment,
// leaving already-set variables alone. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv reads the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup, applying defaults and rejecting invalid values.
func Load(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		Addr:             r.str("CSPS_ADDR", ":8080"),
		Env:              strings.ToLower(r.str("CSPS_ENV", "development")),
		LogLevel:         r.str("CSPS_LOG_LEVEL", "info"),
		PostgresDSN:      r.str("CSPS_PG_DSN", ""),
		RedisAddr:        r.str("CSPS_REDIS_ADDR", ""),
		JWTSecret:        r.str("CSPS_JWT_SECRET", ""),
		JWTIssuer:        r.str("CSPS_JWT_ISSUER", "csps"),
		AccessTTL:        r.duration("CSPS_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       r.duration("CSPS_REFRESH_TTL", 14*24*time.Hour),
		AuditAsyncBuffer: r.integer("CSPS_AUDIT_ASYNC_BUFFER", 0),
		SentryDSN:        r.str("CSPS_SENTRY_DSN", ""),
	}

	adm := admission.DefaultConfig()
	adm.Enabled = r.boolean("CSPS_RATE_LIMIT_ENABLED", adm.Enabled)
	adm.Capacity = r.integer("CSPS_RATE_LIMIT_CAPACITY", adm.Capacity)
	adm.Window = r.duration("CSPS_RATE_LIMIT_WINDOW", adm.Window)
	adm.RetryAfter = r.duration("CSPS_RATE_LIMIT_RETRY_AFTER", adm.RetryAfter)
	adm.Exclude = r.list("CSPS_RATE_LIMIT_EXCLUDE", []string{"/healthz", "/readyz", "/metrics"})
	cfg.Admission = adm

	cfg.RefreshBackend = strings.ToLower(r.str("CSPS_REFRESH_BACKEND", defaultBackend(cfg)))

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultBackend(cfg Config) string {
	if cfg.PostgresDSN != "" {
		return BackendPostgres
	}
	return BackendMemory
}

func (c Config) validate() error {
	var errs []error
	switch c.RefreshBackend {
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("CSPS_PG_DSN is required for the postgres refresh backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("CSPS_REDIS_ADDR is required for the redis refresh backend"))
		}
	case BackendMemory:
		if c.PostgresDSN != "" {
			errs = append(errs, errors.New("CSPS_REFRESH_BACKEND=memory cannot be combined with CSPS_PG_DSN; refresh tokens would live in postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("CSPS_REFRESH_BACKEND: unknown backend %q", c.RefreshBackend))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("CSPS_REFRESH_TTL must exceed CSPS_ACCESS_TTL"))
	}
	if c.AuditAsyncBuffer < 0 {
		errs = append(errs, errors.New("CSPS_AUDIT_ASYNC_BUFFER must not be negative"))
	}
	if err := c.Admission.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts Go duration strings; a bare integer is read as seconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
