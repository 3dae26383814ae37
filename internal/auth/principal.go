package auth

// Principal is the identity resolved once per authenticated request.
type Principal struct {
	Account     *Account
	Identity    Identity
	Authorities []string
}

// NewPrincipal constructs a principal and derives its authorities from the identity.
func NewPrincipal(account *Account, identity Identity) Principal {
	return Principal{
		Account:     account,
		Identity:    identity,
		Authorities: []string{identity.Role().Authority()},
	}
}

// Role returns the role carried by the identity variant.
func (p Principal) Role() Role {
	if p.Identity == nil {
		return ""
	}
	return p.Identity.Role()
}

// AccountID returns the id of the underlying account, or 0 when unset.
func (p Principal) AccountID() int64 {
	if p.Account == nil {
		return 0
	}
	return p.Account.ID
}

// HasRole reports whether the principal acts in the given role.
func (p Principal) HasRole(role Role) bool {
	return role != "" && p.Role() == role
}

// HasAuthority reports whether the principal was granted the authority string.
func (p Principal) HasAuthority(authority string) bool {
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// StudentID returns the student identifier for student principals.
func (p Principal) StudentID() (string, bool) {
	id, ok := p.Identity.(StudentIdentity)
	if !ok {
		return "", false
	}
	return id.StudentID, true
}

// AdminID returns the admin identifier for admin principals.
func (p Principal) AdminID() (int64, bool) {
	id, ok := p.Identity.(AdminIdentity)
	if !ok {
		return 0, false
	}
	return id.AdminID, true
}
