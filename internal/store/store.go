// Package store persists identities, their session hashes and video metadata
// in memory, SQLite or PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/credential"
	"github.com/example/reelhub/internal/paginate"
)

var (
	ErrNotFound = apperr.New(apperr.NotFound, "not found")
	ErrConflict = apperr.New(apperr.Conflict, "already exists")
)

// Identity is a registered user. CredentialHash is never plaintext and
// RefreshTokenHash is empty when no session is active.
type Identity struct {
	ID               string
	Username         string
	Email            string
	DisplayName      string
	CredentialHash   credential.Hash
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type NewIdentity struct {
	Username       string
	Email          string
	DisplayName    string
	CredentialHash credential.Hash
}

// ProfileUpdate changes profile fields only. Nil fields are left alone.
// Credentials change through UpdateCredentialHash.
type ProfileUpdate struct {
	DisplayName *string
	Email       *string
}

func (u ProfileUpdate) empty() bool {
	return u.DisplayName == nil && u.Email == nil
}

type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DurationSeconds int64     `json:"duration"`
	Views           int64     `json:"views"`
	Published       bool      `json:"published"`
	OwnerID         string    `json:"ownerId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type NewVideo struct {
	Title           string
	Description     string
	DurationSeconds int64
	Published       bool
	OwnerID         string
}

// DB is implemented by every storage backend.
type DB interface {
	Init(ctx context.Context) error

	CreateIdentity(ctx context.Context, in NewIdentity) (*Identity, error)
	IdentityByID(ctx context.Context, id string) (*Identity, error)
	// IdentityByLogin matches identifier against the username or the
	// lower-cased email.
	IdentityByLogin(ctx context.Context, identifier string) (*Identity, error)
	UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*Identity, error)
	UpdateCredentialHash(ctx context.Context, id string, h credential.Hash) error

	// Session hash operations. SwapRefreshHash replaces expected with next
	// only if expected is the stored value and reports whether it did.
	SetRefreshHash(ctx context.Context, id, hash string) error
	SwapRefreshHash(ctx context.Context, id, expected, next string) (bool, error)
	RefreshHash(ctx context.Context, id string) (string, error)
	ClearRefreshHash(ctx context.Context, id string) error

	CreateVideo(ctx context.Context, in NewVideo) (*Video, error)

	// Executor evaluates paginated pipelines over UsersSchema and VideosSchema.
	Executor() paginate.Executor

	Ping(ctx context.Context) error
	Close() error
}
