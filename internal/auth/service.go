package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service ties together token issuance, refresh rotation and per-request authentication.
type Service struct {
	store      Store
	codec      *Codec
	refresh    *RefreshTokens
	refreshTTL time.Duration
	now        func() time.Time
	log        *zap.Logger

	refreshStore RefreshTokenStore
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for security-relevant warnings.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithRefreshTokenStore persists refresh tokens somewhere other than the main store.
func WithRefreshTokenStore(rs RefreshTokenStore) ServiceOption {
	return func(s *Service) error {
		if rs == nil {
			return errors.New("auth: nil refresh token store")
		}
		s.refreshStore = rs
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: token codec is required", ErrConfiguration)
	}
	svc := &Service{
		store:      store,
		codec:      codec,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.refreshStore == nil {
		svc.refreshStore = store.RefreshTokens(context.Background())
	}
	if codec.profiles == nil {
		codec.profiles = store.Profiles(context.Background())
	}
	svc.refresh = NewRefreshTokens(svc.refreshStore, svc.refreshTTL, svc.now)
	return svc, nil
}

// Codec exposes the token codec.
func (s *Service) Codec() *Codec { return s.codec }

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Login checks credentials and issues a fresh token pair.
// Unknown usernames yield ErrNotFound and wrong passwords ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, Principal{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	account, err := s.store.Accounts(ctx).FindByUsername(ctx, username)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrUnauthorized) {
			s.log.Warn("password verification failed", zap.Int64("account_id", account.ID), zap.Error(err))
		}
		return TokenPair{}, Principal{}, ErrUnauthorized
	}
	identity, err := s.store.Profiles(ctx).Identity(ctx, account)
	if err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("resolve identity: %w", err)
	}
	pair, err := s.mintTokens(ctx, account, identity)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, NewPrincipal(account, identity), nil
}

// Refresh redeems a refresh token. The presented token is revoked and a new
// pair is issued; invalid, expired or reused tokens yield ErrRefreshTokenInvalid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	rec, err := s.refresh.Consume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenInvalid) {
			s.log.Debug("refresh token rejected")
		}
		return TokenPair{}, err
	}
	account, err := s.store.Accounts(ctx).FindByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrRefreshTokenInvalid
		}
		return TokenPair{}, err
	}
	// The role claim is not at hand here; the codec resolves it.
	return s.mintTokens(ctx, account, nil)
}

// Logout revokes every refresh token of the account.
func (s *Service) Logout(ctx context.Context, accountID int64) error {
	return s.refresh.RevokeAll(ctx, accountID)
}

// ChangePassword replaces the credential after checking the current one and
// revokes outstanding refresh tokens.
func (s *Service) ChangePassword(ctx context.Context, accountID int64, current, next string) error {
	accounts := s.store.Accounts(ctx)
	account, err := accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(account.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}
	return s.refresh.RevokeAll(ctx, accountID)
}

// Authenticate resolves the principal behind a session token.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	accountID, err := s.codec.ExtractSubjectID(token)
	if err != nil {
		return Principal{}, err
	}
	account, err := s.store.Accounts(ctx).FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, err
	}
	if !s.codec.Validate(token, account) {
		// Classify the failure; expiry may have passed since the first decode.
		if _, err := s.codec.Decode(token); err != nil {
			return Principal{}, err
		}
		return Principal{}, ErrTokenMalformed
	}
	identity, err := s.store.Profiles(ctx).Identity(ctx, account)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, err
	}
	return NewPrincipal(account, identity), nil
}

func (s *Service) mintTokens(ctx context.Context, account *Account, identity Identity) (TokenPair, error) {
	accessToken, accessExp, err := s.codec.Issue(ctx, account, identity)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, rec, err := s.refresh.Create(ctx, account.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
