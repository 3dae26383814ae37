package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL = 15 * time.Minute
	minKeyBytes      = 32
)

// Claims is the claim set carried by session tokens.
type Claims struct {
	Role      Role   `json:"role"`
	Name      string `json:"name"`
	StudentID string `json:"student_id,omitempty"`
	Position  string `json:"position,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 session tokens. It keeps no server-side state.
type Codec struct {
	key      []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
	profiles ProfileStore
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithTokenTTL configures the session token lifetime.
func WithTokenTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenIssuer sets the iss claim; verification then requires it.
func WithTokenIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithProfileStore lets Issue resolve the role-specific claim when the caller has none.
func WithProfileStore(profiles ProfileStore) CodecOption {
	return func(c *Codec) {
		c.profiles = profiles
	}
}

// NewCodec builds a codec from a base64 encoded symmetric key.
func NewCodec(encodedKey string, opts ...CodecOption) (*Codec, error) {
	key, err := decodeSigningKey(encodedKey)
	if err != nil {
		return nil, err
	}
	c := &Codec{
		key: key,
		ttl: defaultAccessTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func decodeSigningKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: signing key is not configured", ErrConfiguration)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key is not valid base64", ErrConfiguration)
	}
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", ErrConfiguration, minKeyBytes)
	}
	return key, nil
}

// TTL returns the configured session token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a session token for account. A nil identity is resolved through
// the profile store, so callers that already hold it skip a lookup.
func (c *Codec) Issue(ctx context.Context, account *Account, identity Identity) (string, time.Time, error) {
	if account == nil || account.ID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	if identity == nil {
		if c.profiles == nil {
			return "", time.Time{}, errors.New("auth: no profile store to resolve identity")
		}
		resolved, err := c.profiles.Identity(ctx, account)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("resolve identity: %w", err)
		}
		identity = resolved
	}
	if identity.Role() != account.Role {
		return "", time.Time{}, fmt.Errorf("%w: identity role %s does not match account role %s", ErrInvalidInput, identity.Role(), account.Role)
	}

	now := c.now()
	claims := Claims{
		Role: account.Role,
		Name: account.FullName(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(account.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	switch id := identity.(type) {
	case StudentIdentity:
		claims.StudentID = id.StudentID
	case AdminIdentity:
		claims.Position = id.Position
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Decode verifies signature and expiry and returns the claims.
// Expired tokens yield ErrTokenExpired, every other failure ErrTokenMalformed.
func (c *Codec) Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// ExtractSubjectID decodes the token and returns the account id it was issued for.
func (c *Codec) ExtractSubjectID(token string) (int64, error) {
	claims, err := c.Decode(token)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject is not an account id", ErrTokenMalformed)
	}
	return id, nil
}

// Validate reports whether token is authentic, unexpired and issued for account.
func (c *Codec) Validate(token string, account *Account) bool {
	if account == nil {
		return false
	}
	claims, err := c.Decode(token)
	if err != nil {
		return false
	}
	return claims.Subject == strconv.FormatInt(account.ID, 10)
}
