package auth

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testKey  = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	otherKey = base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
	baseTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func studentAccount(t *testing.T) (Account, StudentIdentity) {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	return Account{
		ID:           7,
		Username:     "jdelacruz",
		PasswordHash: hash,
		Role:         RoleStudent,
		FirstName:    "Juan",
		MiddleName:   "Santos",
		LastName:     "Dela Cruz",
	}, StudentIdentity{StudentID: "22-0001-123"}
}

func adminAccount(t *testing.T) (Account, AdminIdentity) {
	t.Helper()
	hash, err := HashPassword("admin-secret")
	require.NoError(t, err)
	return Account{
		ID:           11,
		Username:     "treasurer",
		PasswordHash: hash,
		Role:         RoleAdmin,
		FirstName:    "Maria",
		LastName:     "Reyes",
	}, AdminIdentity{AdminID: 3, Position: "Treasurer"}
}

func newTestCodec(t *testing.T, clock *testClock, opts ...CodecOption) *Codec {
	t.Helper()
	opts = append([]CodecOption{WithTokenClock(clock.Now)}, opts...)
	c, err := NewCodec(testKey, opts...)
	require.NoError(t, err)
	return c
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *testClock) {
	t.Helper()
	store := NewMemoryStore()
	student, sid := studentAccount(t)
	admin, aid := adminAccount(t)
	require.NoError(t, store.PutAccount(student, sid))
	require.NoError(t, store.PutAccount(admin, aid))

	clock := newTestClock()
	svc, err := NewService(store, newTestCodec(t, clock), WithClock(clock.Now))
	require.NoError(t, err)
	return svc, store, clock
}
