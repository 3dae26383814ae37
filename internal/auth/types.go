package auth

import (
	"strings"
	"time"
)

// Role is the immutable role tag of an account.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Authority returns the authority string granted by the role.
func (r Role) Authority() string {
	return "ROLE_" + string(r)
}

// ParseRole normalizes a stored role tag.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", ErrInvalidInput
	}
	return role, nil
}

// Account is the credential-bearing record every student or admin owns.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	FirstName    string
	MiddleName   string
	LastName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName joins first, optional middle and last name.
func (a *Account) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.FirstName, a.MiddleName, a.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Identity is the role-specific half of a principal. It is either
// StudentIdentity or AdminIdentity.
type Identity interface {
	Role() Role
	isIdentity()
}

// StudentIdentity carries the student's domain identifier.
type StudentIdentity struct {
	StudentID string
}

func (StudentIdentity) Role() Role  { return RoleStudent }
func (StudentIdentity) isIdentity() {}

// AdminIdentity carries the admin's numeric id and position.
type AdminIdentity struct {
	AdminID  int64
	Position string
}

func (AdminIdentity) Role() Role  { return RoleAdmin }
func (AdminIdentity) isIdentity() {}

// RefreshToken represents a persisted refresh token.
type RefreshToken struct {
	ID        string
	AccountID int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// AuditRecord is an append-only log of a successful mutating action.
type AuditRecord struct {
	ID             string
	ActorAccountID int64
	Action         string
	ResourceType   string
	ResourceID     string
	Description    string
	OccurredAt     time.Time
}
