package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/ids"
)

const (
	defaultRefreshTTL = 24 * time.Hour * 14
	refreshSecretSize = 32
	// Ids are random ULIDs; a collision means the entropy source misbehaved.
	maxRefreshIDAttempts = 3
)

// RefreshTokens implements refresh token issuance and single-use redemption on
// top of a RefreshTokenStore. Only one live token per account is kept: Create
// revokes the account's earlier tokens before persisting a new one.
type RefreshTokens struct {
	store RefreshTokenStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRefreshTokens wraps store. Zero ttl selects the default of 14 days.
func NewRefreshTokens(store RefreshTokenStore, ttl time.Duration, now func() time.Time) *RefreshTokens {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RefreshTokens{store: store, ttl: ttl, now: now}
}

// Create issues a new refresh token for the account and returns its wire form.
func (r *RefreshTokens) Create(ctx context.Context, accountID int64) (string, *RefreshToken, error) {
	if accountID <= 0 {
		return "", nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if err := r.store.MarkRevokedByAccount(ctx, accountID); err != nil {
		return "", nil, fmt.Errorf("revoke previous refresh tokens: %w", err)
	}
	now := r.now()
	for attempt := 0; attempt < maxRefreshIDAttempts; attempt++ {
		raw, rec, err := r.generate(accountID, now)
		if err != nil {
			return "", nil, err
		}
		err = r.store.Create(ctx, rec)
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("store refresh token: %w", err)
		}
		return raw, rec, nil
	}
	return "", nil, errors.New("auth: could not allocate a unique refresh token id")
}

// Consume validates raw and revokes it. Every failure is ErrRefreshTokenInvalid
// except storage errors, which are returned wrapped.
func (r *RefreshTokens) Consume(ctx context.Context, raw string) (*RefreshToken, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil, ErrRefreshTokenInvalid
	}
	rec, err := r.store.Find(ctx, tokenID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if rec.Revoked || !r.now().Before(rec.ExpiresAt) {
		return nil, ErrRefreshTokenInvalid
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		if err := r.store.MarkRevoked(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("revoke refresh token: %w", err)
		}
		return nil, ErrRefreshTokenInvalid
	}
	// MarkRevoked only succeeds for a live row, so concurrent redemptions of
	// the same token cannot both get past this point.
	if err := r.store.MarkRevoked(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	rec.Revoked = true
	return rec, nil
}

// RevokeAll invalidates every refresh token of the account.
func (r *RefreshTokens) RevokeAll(ctx context.Context, accountID int64) error {
	return r.store.MarkRevokedByAccount(ctx, accountID)
}

func (r *RefreshTokens) generate(accountID int64, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, refreshSecretSize)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := &RefreshToken{
		ID:        ids.NewAt(now),
		AccountID: accountID,
		TokenHash: hashSecret(secret),
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	if !ids.Valid(parts[0]) {
		return "", "", errors.New("invalid refresh token id")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
