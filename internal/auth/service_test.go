package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginIssuesRoleBoundPair(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	pair, principal, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, clock.Now().Add(defaultAccessTTL), pair.AccessExpiresAt)
	require.Equal(t, clock.Now().Add(defaultRefreshTTL), pair.RefreshExpiresAt)

	require.Equal(t, RoleStudent, principal.Role())
	require.Equal(t, []string{"ROLE_STUDENT"}, principal.Authorities)
	studentID, ok := principal.StudentID()
	require.True(t, ok)
	require.Equal(t, "22-0001-123", studentID)

	claims, err := svc.Codec().Decode(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, RoleStudent, claims.Role)
	require.Equal(t, "22-0001-123", claims.StudentID)
	require.Equal(t, "7", claims.Subject)
}

func TestLoginUsernameIsCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, principal, err := svc.Login(context.Background(), "  TREASURER ", "admin-secret")
	require.NoError(t, err)
	adminID, ok := principal.AdminID()
	require.True(t, ok)
	require.Equal(t, int64(3), adminID)
}

func TestLoginFailures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "jdelacruz", "wrong-password")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = svc.Login(ctx, "nobody", "whatever1")
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = svc.Login(ctx, "", "whatever1")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	claims, err := svc.Codec().Decode(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "7", claims.Subject)
	require.Equal(t, "22-0001-123", claims.StudentID, "refresh resolves the role claim from the profile")

	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)

	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, raw := range []string{"", "abc", "a.b", "01HZZZZZZZZZZZZZZZZZZZZZZZ.secret", "x.y.z"} {
		_, err := svc.Refresh(ctx, raw)
		require.ErrorIs(t, err, ErrRefreshTokenInvalid, "raw %q", raw)
	}
}

func TestRefreshWithTamperedSecretRevokesToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)
	id := strings.SplitN(pair.RefreshToken, ".", 2)[0]

	_, err = svc.Refresh(ctx, id+".not-the-secret")
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestRefreshExpires(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)

	clock.Advance(defaultRefreshTTL)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestSecondLoginRevokesEarlierRefreshToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)
	second, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestConcurrentRefreshRedeemsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "treasurer", "admin-secret")
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, success)
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, principal, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, principal.AccountID()))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)

	require.ErrorIs(t, svc.ChangePassword(ctx, 7, "wrong", "new-password-1"), ErrUnauthorized)
	require.ErrorIs(t, svc.ChangePassword(ctx, 7, "correct-horse", "short"), ErrInvalidInput)
	require.ErrorIs(t, svc.ChangePassword(ctx, 999, "correct-horse", "new-password-1"), ErrNotFound)

	require.NoError(t, svc.ChangePassword(ctx, 7, "correct-horse", "new-password-1"))
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)

	_, _, err = svc.Login(ctx, "jdelacruz", "correct-horse")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = svc.Login(ctx, "jdelacruz", "new-password-1")
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "treasurer", "admin-secret")
	require.NoError(t, err)

	principal, err := svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, principal.Role())
	require.True(t, principal.HasAuthority("ROLE_ADMIN"))
	require.Equal(t, int64(11), principal.AccountID())

	_, err = svc.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, ErrTokenMalformed)

	clock.Advance(defaultAccessTTL)
	_, err = svc.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	// token for an account that no longer exists
	ghost := Account{ID: 404, Username: "ghost", Role: RoleStudent, FirstName: "G", LastName: "H"}
	token, _, err := svc.Codec().Issue(ctx, &ghost, StudentIdentity{StudentID: "x"})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestNewServiceValidatesInput(t *testing.T) {
	_, err := NewService(nil, nil)
	require.Error(t, err)

	_, err = NewService(NewMemoryStore(), nil)
	require.ErrorIs(t, err, ErrConfiguration)

	codec := newTestCodec(t, newTestClock())
	_, err = NewService(NewMemoryStore(), codec, WithRefreshTokenStore(nil))
	require.Error(t, err)
}

type unrevokableRefresh struct{ RefreshTokenStore }

func (unrevokableRefresh) MarkRevoked(context.Context, string) error {
	return errors.New("connection reset")
}

func TestRefreshMismatchSurfacesRevokeFailure(t *testing.T) {
	store := NewMemoryStore()
	student, sid := studentAccount(t)
	require.NoError(t, store.PutAccount(student, sid))
	rs := unrevokableRefresh{store.RefreshTokens(context.Background())}
	svc, err := NewService(store, newTestCodec(t, newTestClock()), WithRefreshTokenStore(rs))
	require.NoError(t, err)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "jdelacruz", "correct-horse")
	require.NoError(t, err)
	id := strings.SplitN(pair.RefreshToken, ".", 2)[0]

	_, err = svc.Refresh(ctx, id+".not-the-secret")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRefreshTokenInvalid)
	require.Contains(t, err.Error(), "connection reset")
}
