package admission

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/obs"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
	headerLimit        = "X-RateLimit-Limit"
	headerRetryAfter   = "Retry-After"
)

// ClientKey picks the first X-Forwarded-For entry, then X-Real-IP, then the
// peer address. Proxy headers win over the socket address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get(headerForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get(headerRealIP)); ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}
	return "unknown"
}

// Middleware rejects requests whose client bucket is empty with 429.
// Disabled or excluded requests skip the bucket table entirely.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.cfg.Enabled || c.exclude.match(r.URL.Path) {
			obs.ObserveAdmission("bypassed")
			next.ServeHTTP(w, r)
			return
		}
		key := ClientKey(r)
		if !c.Admit(key) {
			obs.ObserveAdmission("rejected")
			c.log.Debug("admission rejected", zap.String("client", key), zap.String("path", r.URL.Path))
			w.Header().Set(headerRetryAfter, strconv.Itoa(c.retryAfterSeconds()))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}
		obs.ObserveAdmission("admitted")
		w.Header().Set(headerLimit, strconv.Itoa(c.cfg.Capacity))
		next.ServeHTTP(w, r)
	})
}
