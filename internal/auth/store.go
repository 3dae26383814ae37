package auth

import "context"

// Store describes the persistence collaborators consumed by the security core.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Profiles(ctx context.Context) ProfileStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Audit(ctx context.Context) AuditStore
}

// AccountStore looks up accounts by id or username.
type AccountStore interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// ProfileStore resolves the role-specific identity of an account.
type ProfileStore interface {
	Identity(ctx context.Context, account *Account) (Identity, error)
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByAccount(ctx context.Context, accountID int64) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, record *AuditRecord) error
}
