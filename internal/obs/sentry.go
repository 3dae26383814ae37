package obs

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry hub. An empty DSN leaves reporting off.
func InitSentry(dsn, environment, release string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	return true, nil
}

// FlushSentry waits for buffered events before shutdown.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// CapturePanic reports a recovered panic together with the request that caused it.
func CapturePanic(r *http.Request, recovered any) {
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.Scope().SetTag("path", CanonicalPath(r.URL.Path))
	hub.Recover(recovered)
}
