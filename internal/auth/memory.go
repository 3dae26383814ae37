package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store used in tests and when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[int64]*Account
	identities map[int64]Identity
	refresh    map[string]*RefreshToken
	audit      []AuditRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[int64]*Account),
		identities: make(map[int64]Identity),
		refresh:    make(map[string]*RefreshToken),
	}
}

// PutAccount inserts or replaces an account together with its role profile.
func (s *MemoryStore) PutAccount(account Account, identity Identity) error {
	if account.ID <= 0 || identity == nil || identity.Role() != account.Role {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.accounts {
		if id != account.ID && strings.EqualFold(existing.Username, account.Username) {
			return ErrAlreadyExists
		}
	}
	s.accounts[account.ID] = &account
	s.identities[account.ID] = identity
	return nil
}

// AuditRecords returns a copy of every appended audit record.
func (s *MemoryStore) AuditRecords() []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditRecord, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *MemoryStore) Accounts(context.Context) AccountStore           { return memAccounts{s} }
func (s *MemoryStore) Profiles(context.Context) ProfileStore           { return memProfiles{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memRefresh{s} }
func (s *MemoryStore) Audit(context.Context) AuditStore                { return memAudit{s} }

type memAccounts struct{ s *MemoryStore }

func (m memAccounts) FindByID(_ context.Context, id int64) (*Account, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	a, ok := m.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m memAccounts) FindByUsername(_ context.Context, username string) (*Account, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, a := range m.s.accounts {
		if strings.EqualFold(a.Username, username) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memAccounts) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type memProfiles struct{ s *MemoryStore }

func (m memProfiles) Identity(_ context.Context, account *Account) (Identity, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.identities[account.ID]
	if !ok {
		return nil, ErrNotFound
	}
	return id, nil
}

type memRefresh struct{ s *MemoryStore }

func (m memRefresh) Create(_ context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.refresh[tok.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *tok
	m.s.refresh[tok.ID] = &cp
	return nil
}

func (m memRefresh) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m memRefresh) MarkRevoked(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok || tok.Revoked {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m memRefresh) MarkRevokedByAccount(_ context.Context, accountID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, tok := range m.s.refresh {
		if tok.AccountID == accountID {
			tok.Revoked = true
		}
	}
	return nil
}

type memAudit struct{ s *MemoryStore }

func (m memAudit) Append(_ context.Context, record *AuditRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.audit = append(m.s.audit, *record)
	return nil
}
