package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/admission"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/audit"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
)

var signingKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	t      *testing.T
	store  *auth.MemoryStore
	svc    *auth.Service
	clock  *clock
	server *httptest.Server
}

func seedAccounts(t *testing.T, store *auth.MemoryStore) {
	t.Helper()
	for _, seed := range []struct {
		account  auth.Account
		password string
		identity auth.Identity
	}{
		{auth.Account{ID: 7, Username: "jdelacruz", Role: auth.RoleStudent, FirstName: "Juan", LastName: "Dela Cruz"}, "correct-horse", auth.StudentIdentity{StudentID: "22-0001-123"}},
		{auth.Account{ID: 11, Username: "treasurer", Role: auth.RoleAdmin, FirstName: "Maria", LastName: "Reyes"}, "admin-secret", auth.AdminIdentity{AdminID: 3, Position: "Treasurer"}},
	} {
		hash, err := auth.HashPassword(seed.password)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		seed.account.PasswordHash = hash
		if err := store.PutAccount(seed.account, seed.identity); err != nil {
			t.Fatalf("put account: %v", err)
		}
	}
}

func newService(t *testing.T, store auth.Store, c *clock) *auth.Service {
	t.Helper()
	codec, err := auth.NewCodec(signingKey, auth.WithTokenClock(c.Now), auth.WithTokenIssuer("csps"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc, err := auth.NewService(store, codec, auth.WithClock(c.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newTestEnv(t *testing.T, admissionCfg *admission.Config) *testEnv {
	t.Helper()
	store := auth.NewMemoryStore()
	seedAccounts(t, store)
	c := &clock{now: time.Now().UTC()}
	svc := newService(t, store, c)

	opts := []Option{
		WithAuditRecorder(audit.NewRecorder(store.Audit(context.Background()))),
		WithVersion("test"),
	}
	cfg := admission.Config{Enabled: true, Capacity: 1000, Window: time.Second}
	if admissionCfg != nil {
		cfg = *admissionCfg
	}
	ctrl, err := admission.New(cfg)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	opts = append(opts, WithAdmission(ctrl))

	srv := httptest.NewServer(New(svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, store: store, svc: svc, clock: c, server: srv}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (e *testEnv) login(username, password string) tokenResponse {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		e.t.Fatalf("login %s: unexpected status %d", username, resp.StatusCode)
	}
	return decode[tokenResponse](e.t, resp)
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
