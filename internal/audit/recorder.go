// Package audit records successful mutating operations against an append-only sink.
//
// Recording is best effort: missing principals and sink failures are logged
// and never reach the guarded operation.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/ids"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/obs"
)

// Recorder turns operations into audit records.
type Recorder struct {
	sink  auth.AuditStore
	log   *zap.Logger
	now   func() time.Time
	async *dispatcher
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger for warnings and swallowed sink errors.
func WithLogger(log *zap.Logger) Option {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithAsync writes records from a background goroutine fed by a buffer of
// the given size. Close drains it.
func WithAsync(buffer int) Option {
	return func(r *Recorder) {
		if buffer > 0 {
			r.async = newDispatcher(buffer, r.write)
		}
	}
}

// NewRecorder builds a recorder writing to sink.
func NewRecorder(sink auth.AuditStore, opts ...Option) *Recorder {
	r := &Recorder{
		sink: sink,
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close flushes pending asynchronous writes. It is a no-op in synchronous mode.
func (r *Recorder) Close() {
	if r != nil && r.async != nil {
		r.async.close()
	}
}

// Record writes one audit record for op performed by the principal in ctx.
// The resource id is taken from the last segment of requestURI.
func (r *Recorder) Record(ctx context.Context, op Operation, requestURI string) {
	r.record(ctx, op, ResourceIDFromURI(requestURI), requestURI)
}

func (r *Recorder) record(ctx context.Context, op Operation, resourceID, requestURI string) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		obs.ObserveAuditWrite("skipped")
		r.log.Warn("audit skipped: no authenticated principal",
			zap.String("operation", op.String()),
			zap.String("uri", requestURI),
			zap.String("request_id", RequestIDFromContext(ctx)))
		return
	}

	now := r.now().UTC()
	rec := &auth.AuditRecord{
		ID:             ids.NewAt(now),
		ActorAccountID: principal.AccountID(),
		Action:         op.Action,
		ResourceType:   op.ResourceType,
		ResourceID:     resourceID,
		Description:    fmt.Sprintf("%s %s at %s", op.Action, op.ResourceType, now.Format(time.RFC3339)),
		OccurredAt:     now,
	}

	if r.async != nil {
		if !r.async.enqueue(ctx, rec) {
			obs.ObserveAuditWrite("error")
			r.log.Warn("audit record dropped", zap.String("operation", op.String()), zap.Int64("actor", rec.ActorAccountID))
		}
		return
	}
	r.write(context.WithoutCancel(ctx), rec)
}

func (r *Recorder) write(ctx context.Context, rec *auth.AuditRecord) {
	defer func() {
		if p := recover(); p != nil {
			obs.ObserveAuditWrite("error")
			r.log.Error("audit sink panicked", zap.Any("panic", p), zap.String("audit_id", rec.ID))
		}
	}()
	if err := r.sink.Append(ctx, rec); err != nil {
		obs.ObserveAuditWrite("error")
		r.log.Error("audit write failed",
			zap.Error(err),
			zap.String("audit_id", rec.ID),
			zap.String("action", rec.Action),
			zap.String("resource_type", rec.ResourceType),
			zap.Int64("actor", rec.ActorAccountID))
		return
	}
	obs.ObserveAuditWrite("ok")
}

// Do runs fn and records op only when fn succeeds. fn's error is returned unchanged.
func Do(ctx context.Context, r *Recorder, op Operation, requestURI string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	if r != nil {
		r.Record(ctx, op, requestURI)
	}
	return nil
}

// Middleware records op after next completes with a status below 400.
// A panicking handler is never recorded. When the matched route has an {id}
// wildcard its value is the resource id; otherwise the URI heuristic applies.
func (r *Recorder) Middleware(op Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, req)
			if sw.code < http.StatusBadRequest {
				uri := req.URL.RequestURI()
				resourceID := req.PathValue("id")
				if resourceID == "" {
					resourceID = ResourceIDFromURI(uri)
				}
				r.record(req.Context(), op, resourceID, uri)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
