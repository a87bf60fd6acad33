package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/reelhub/internal/credential"
	"github.com/example/reelhub/internal/paginate"
)

// sqlDB holds the queries shared by SQLite and PostgreSQL. Queries are
// written with ? placeholders and rebound per dialect.
type sqlDB struct {
	db      *sql.DB
	dialect paginate.Dialect
	now     func() time.Time
}

func newSQLDB(db *sql.DB, d paginate.Dialect) *sqlDB {
	return &sqlDB{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

func (s *sqlDB) rebind(q string) string {
	if s.dialect != paginate.Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlDB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlDB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

// mapWriteErr turns unique violations of either driver into Conflict.
func mapWriteErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return conflict(violatedField(pqErr.Constraint + " " + pqErr.Detail))
	}
	if msg := err.Error(); strings.Contains(msg, "UNIQUE constraint failed") {
		return conflict(violatedField(msg))
	}
	return err
}

func violatedField(s string) string {
	switch {
	case strings.Contains(s, "email"):
		return "email"
	case strings.Contains(s, "username"):
		return "username"
	}
	return "value"
}

// dbTime scans timestamps stored natively (PostgreSQL) or as text (SQLite).
type dbTime struct{ t *time.Time }

func (d dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d.t = v.UTC()
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (d dbTime) parse(s string) error {
	for _, layout := range []string{paginate.SQLiteTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			*d.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}

const identityColumns = `id, username, email, display_name, password_hash, refresh_token_hash, created_at, updated_at`

func scanIdentity(row interface{ Scan(...any) error }) (*Identity, error) {
	var u Identity
	var hash string
	var refresh sql.NullString
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &hash, &refresh, dbTime{&u.CreatedAt}, dbTime{&u.UpdatedAt})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	u.CredentialHash = credential.Hash(hash)
	u.RefreshTokenHash = refresh.String
	return &u, nil
}

func (s *sqlDB) CreateIdentity(ctx context.Context, in NewIdentity) (*Identity, error) {
	now := s.now()
	u := &Identity{
		ID:             uuid.NewString(),
		Username:       in.Username,
		Email:          strings.ToLower(in.Email),
		DisplayName:    in.DisplayName,
		CredentialHash: in.CredentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.exec(ctx, `INSERT INTO users(id, username, email, display_name, password_hash, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.Email, u.DisplayName, string(u.CredentialHash), s.dialect.TimeValue(now), s.dialect.TimeValue(now))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return u, nil
}

func (s *sqlDB) IdentityByID(ctx context.Context, id string) (*Identity, error) {
	return scanIdentity(s.queryRow(ctx, `SELECT `+identityColumns+` FROM users WHERE id = ?`, id))
}

func (s *sqlDB) IdentityByLogin(ctx context.Context, identifier string) (*Identity, error) {
	return scanIdentity(s.queryRow(ctx, `SELECT `+identityColumns+` FROM users WHERE username = ? OR email = ?`,
		identifier, strings.ToLower(identifier)))
}

func (s *sqlDB) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*Identity, error) {
	if p.empty() {
		return s.IdentityByID(ctx, id)
	}
	var sets []string
	var args []any
	if p.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *p.DisplayName)
	}
	if p.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, strings.ToLower(*p.Email))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.dialect.TimeValue(s.now()), id)

	res, err := s.exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.IdentityByID(ctx, id)
}

func (s *sqlDB) UpdateCredentialHash(ctx context.Context, id string, h credential.Hash) error {
	res, err := s.exec(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		string(h), s.dialect.TimeValue(s.now()), id)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlDB) SetRefreshHash(ctx context.Context, id, hash string) error {
	res, err := s.exec(ctx, `UPDATE users SET refresh_token_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("set refresh hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlDB) SwapRefreshHash(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	res, err := s.exec(ctx, `UPDATE users SET refresh_token_hash = ? WHERE id = ? AND refresh_token_hash = ?`, next, id, expected)
	if err != nil {
		return false, fmt.Errorf("swap refresh hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap refresh hash: %w", err)
	}
	return n == 1, nil
}

func (s *sqlDB) RefreshHash(ctx context.Context, id string) (string, error) {
	var h sql.NullString
	if err := s.queryRow(ctx, `SELECT refresh_token_hash FROM users WHERE id = ?`, id).Scan(&h); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get refresh hash: %w", err)
	}
	return h.String, nil
}

func (s *sqlDB) ClearRefreshHash(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `UPDATE users SET refresh_token_hash = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear refresh hash: %w", err)
	}
	return nil
}

func (s *sqlDB) CreateVideo(ctx context.Context, in NewVideo) (*Video, error) {
	now := s.now()
	v := &Video{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Description:     in.Description,
		DurationSeconds: in.DurationSeconds,
		Published:       in.Published,
		OwnerID:         in.OwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.IdentityByID(ctx, in.OwnerID); err != nil {
		return nil, err
	}
	_, err := s.exec(ctx, `INSERT INTO videos(id, title, description, duration_seconds, views, published, owner_id, created_at, updated_at) VALUES(?,?,?,?,0,?,?,?,?)`,
		v.ID, v.Title, v.Description, v.DurationSeconds, s.dialect.Arg(v.Published), v.OwnerID,
		s.dialect.TimeValue(now), s.dialect.TimeValue(now))
	if err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return v, nil
}

func (s *sqlDB) Executor() paginate.Executor {
	return paginate.NewSQLExecutor(s.db, s.dialect)
}

func (s *sqlDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlDB) Close() error                   { return s.db.Close() }
