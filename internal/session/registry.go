// Package session tracks the single active refresh token of each identity.
//
// Only the SHA-256 of a refresh token is stored. Rotation is a conditional
// swap of that hash, so a token can be exchanged at most once; presenting an
// already rotated token revokes the session.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/metrics"
	"github.com/example/reelhub/internal/store"
	"github.com/example/reelhub/internal/token"
)

var ErrSessionCompromised = apperr.New(apperr.SessionCompromised, "refresh token reuse detected")

// Store keeps the current refresh token hash per identity. An empty hash
// means no active session.
type Store interface {
	SetRefreshHash(ctx context.Context, id, hash string) error
	SwapRefreshHash(ctx context.Context, id, expected, next string) (bool, error)
	RefreshHash(ctx context.Context, id string) (string, error)
	ClearRefreshHash(ctx context.Context, id string) error
}

type Identities interface {
	IdentityByID(ctx context.Context, id string) (*store.Identity, error)
}

type Registry struct {
	issuer     *token.Issuer
	identities Identities
	store      Store
	log        *slog.Logger
}

func NewRegistry(issuer *token.Issuer, identities Identities, s Store, log *slog.Logger) *Registry {
	return &Registry{issuer: issuer, identities: identities, store: s, log: log}
}

// HashToken returns the stored form of a raw refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SubjectOf maps an identity to the claims carried by its tokens.
func SubjectOf(u *store.Identity) token.Subject {
	return token.Subject{ID: u.ID, Email: u.Email, Username: u.Username, DisplayName: u.DisplayName}
}

// Start issues a token pair for u and makes its refresh token the only
// valid one, replacing any previous session.
func (r *Registry) Start(ctx context.Context, u *store.Identity) (token.Pair, error) {
	pair, err := r.issuer.IssuePair(SubjectOf(u))
	if err != nil {
		return token.Pair{}, apperr.Internalf(err, "issue token pair")
	}
	if err := r.store.SetRefreshHash(ctx, u.ID, HashToken(pair.RefreshToken)); err != nil {
		return token.Pair{}, apperr.Internalf(err, "store session")
	}
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token must
// be the current one: a valid but superseded token ends the session and
// returns ErrSessionCompromised.
func (r *Registry) Rotate(ctx context.Context, raw string) (token.Pair, *store.Identity, error) {
	claims, err := r.issuer.Verify(raw, token.Refresh)
	if err != nil {
		return token.Pair{}, nil, err
	}

	u, err := r.identities.IdentityByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return token.Pair{}, nil, apperr.New(apperr.TokenInvalid, "unknown subject")
	}
	if err != nil {
		return token.Pair{}, nil, apperr.Internalf(err, "load identity")
	}

	pair, err := r.issuer.IssuePair(SubjectOf(u))
	if err != nil {
		return token.Pair{}, nil, apperr.Internalf(err, "issue token pair")
	}

	ok, err := r.store.SwapRefreshHash(ctx, u.ID, HashToken(raw), HashToken(pair.RefreshToken))
	if err != nil {
		return token.Pair{}, nil, apperr.Internalf(err, "rotate session")
	}
	if ok {
		return pair, u, nil
	}

	current, err := r.store.RefreshHash(ctx, u.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return token.Pair{}, nil, apperr.Internalf(err, "read session")
	}
	if current == "" {
		return token.Pair{}, nil, apperr.New(apperr.TokenInvalid, "no active session")
	}

	// the token was issued by us for this identity but is no longer current
	if err := r.store.ClearRefreshHash(ctx, u.ID); err != nil {
		return token.Pair{}, nil, apperr.Internalf(err, "revoke session")
	}
	metrics.RecordReuse()
	r.log.Warn("refresh token reuse detected, session revoked", "user_id", u.ID, "jti", claims.ID)
	return token.Pair{}, nil, ErrSessionCompromised
}

// End clears the session of id. Ending a session that does not exist is not
// an error.
func (r *Registry) End(ctx context.Context, id string) error {
	if err := r.store.ClearRefreshHash(ctx, id); err != nil {
		return apperr.Internalf(err, "end session")
	}
	return nil
}
