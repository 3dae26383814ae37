package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/admission"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/audit"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/obs"
)

const maxBodyBytes = 1 << 20

// Pinger is satisfied by the redis refresh store and similar dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores.
type ReadyProbe struct {
	DB    *sql.DB
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	admission  *admission.Controller
	audit      *audit.Recorder
	readyProbe ReadyProbe
	log        *zap.Logger
	version    string
}

// Option configures the API.
type Option func(*API)

// WithAdmission puts the admission controller in front of authentication.
func WithAdmission(c *admission.Controller) Option {
	return func(a *API) { a.admission = c }
}

// WithAuditRecorder enables audit records on mutating routes.
func WithAuditRecorder(r *audit.Recorder) Option {
	return func(a *API) { a.audit = r }
}

// WithReadyProbe sets the dependencies checked by /readyz.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithLogger sets the request and error logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		mux:     http.NewServeMux(),
		auth:    svc,
		log:     zap.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/auth/refresh", a.handleRefresh)
	a.mux.Handle("POST /api/auth/logout", RequireAuthenticated(
		a.audited(audit.Operation{Action: audit.ActionLogout, ResourceType: audit.ResourceSession}, http.HandlerFunc(a.handleLogout))))

	a.mux.Handle("GET /api/me", RequireAuthenticated(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("GET /api/students/me", RequireRole(auth.RoleStudent)(http.HandlerFunc(a.handleStudentMe)))
	a.mux.Handle("GET /api/admins/me", RequireRole(auth.RoleAdmin)(http.HandlerFunc(a.handleAdminMe)))
	a.mux.Handle("PUT /api/accounts/{id}/password", RequireAuthenticated(
		a.audited(audit.Operation{Action: audit.ActionUpdate, ResourceType: audit.ResourceAccount}, http.HandlerFunc(a.handleChangePassword))))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the full middleware chain:
// recover, request id, logging, metrics, headers, admission, authentication, routes.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = a.withAuth(h)
	if a.admission != nil {
		h = a.admission.Middleware(h)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(a.log)(h)
	h = RequestID(h)
	return Recover(a.log)(h)
}

func (a *API) audited(op audit.Operation, next http.Handler) http.Handler {
	if a.audit == nil {
		return next
	}
	return a.audit.Middleware(op)(next)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "csps-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
