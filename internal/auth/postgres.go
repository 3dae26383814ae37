package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore           { return &accountStore{db: s.db} }
func (s *PGStore) Profiles(context.Context) ProfileStore           { return &profileStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &refreshStore{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore                { return &auditStore{db: s.db} }

func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

// Account store -------------------------------------------------------------
type accountStore struct{ db *sql.DB }

const accountColumns = `id, username, password_hash, role, first_name, coalesce(middle_name, ''), last_name, created_at, updated_at`

func (s *accountStore) FindByID(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where lower(username)=lower($1)`, username)
	return scanAccount(row)
}

func (s *accountStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a    Account
		role string
	)
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &role, &a.FirstName, &a.MiddleName, &a.LastName, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	a.Role = parsed
	return &a, nil
}

// Profile store -------------------------------------------------------------
type profileStore struct{ db *sql.DB }

// Identity joins both profile tables; whichever side is present decides the variant.
func (s *profileStore) Identity(ctx context.Context, account *Account) (Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		select s.student_id, ad.id, ad.position
		from accounts acc
		left join students s on s.account_id = acc.id
		left join admins ad on ad.account_id = acc.id
		where acc.id=$1`, account.ID)
	var (
		studentID sql.NullString
		adminID   sql.NullInt64
		position  sql.NullString
	)
	if err := row.Scan(&studentID, &adminID, &position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	switch {
	case studentID.Valid && !adminID.Valid:
		return StudentIdentity{StudentID: studentID.String}, nil
	case adminID.Valid && !studentID.Valid:
		return AdminIdentity{AdminID: adminID.Int64, Position: position.String}, nil
	default:
		return nil, ErrNotFound
	}
}

// Refresh token store -------------------------------------------------------
type refreshStore struct{ db *sql.DB }

func (s *refreshStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, token_hash, expires_at, created_at, revoked) values($1,$2,$3,$4,$5,false)`,
		tok.ID, tok.AccountID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *refreshStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token_hash, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.AccountID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *refreshStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1 and revoked=false`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *refreshStore) MarkRevokedByAccount(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where account_id=$1 and revoked=false`, accountID)
	return err
}

// Audit store ---------------------------------------------------------------
type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, record *AuditRecord) error {
	if record.ID == "" {
		record.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_records(id, actor_account_id, action, resource_type, resource_id, description, occurred_at) values($1,$2,$3,$4,$5,$6,$7)`,
		record.ID, record.ActorAccountID, record.Action, record.ResourceType, record.ResourceID, record.Description, record.OccurredAt,
	)
	return err
}
