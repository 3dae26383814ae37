package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	challenge  = `Bearer realm="csps"`
)

var (
	errNotBearer    = errors.New("not a bearer credential")
	errMissingToken = errors.New("missing bearer token")
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth resolves the bearer token into a principal once per request.
// Requests without a bearer credential, including other Authorization
// schemes, continue anonymously; role checks reject them later.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := auth.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			obs.ObserveAuthentication("anonymous")
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(header)
		if errors.Is(err, errNotBearer) {
			obs.ObserveAuthentication("anonymous")
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			obs.ObserveAuthentication("invalid")
			unauthorized(w, r, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				obs.ObserveAuthentication("expired")
				unauthorized(w, r, "token expired")
			case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrPrincipalNotFound):
				obs.ObserveAuthentication("invalid")
				unauthorized(w, r, "invalid token")
			default:
				obs.ObserveAuthentication("error")
				a.log.Error("authentication failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(r.Context())))
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		obs.ObserveAuthentication("ok")
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			unauthorized(w, r, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only principals acting in role: 401 when anonymous, 403 otherwise.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if !principal.HasRole(role) {
				w.Header().Set("WWW-Authenticate", challenge+`, error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	scheme := strings.TrimSpace(bearer)
	if strings.EqualFold(header, scheme) {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errNotBearer
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
