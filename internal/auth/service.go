// Package auth implements registration, login, token refresh, logout and
// profile management on top of the credential, token and session packages.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/credential"
	"github.com/example/reelhub/internal/metrics"
	"github.com/example/reelhub/internal/session"
	"github.com/example/reelhub/internal/store"
	"github.com/example/reelhub/internal/token"
	"github.com/example/reelhub/internal/validate"
)

// ErrInvalidCredentials is returned for every failed login, whatever the cause.
var ErrInvalidCredentials = apperr.New(apperr.Authentication, "invalid credentials")

type RegisterInput struct {
	Username    string `json:"username" validate:"required,username"`
	Email       string `json:"email" validate:"required,email,max=254"`
	DisplayName string `json:"displayName" validate:"required,max=80"`
	Password    string `json:"password" validate:"required"`
}

// LoginInput accepts the login name as identifier, username or email.
type LoginInput struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password" validate:"required"`
}

func (in LoginInput) login() string {
	for _, s := range []string{in.Identifier, in.Username, in.Email} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

type ProfileInput struct {
	DisplayName *string `json:"displayName" validate:"omitempty,min=1,max=80"`
	Email       *string `json:"email" validate:"omitempty,email,max=254"`
}

type PasswordChangeInput struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// User is the public view of an identity.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func Public(u *store.Identity) User {
	return User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// Session is the outcome of a login or refresh.
type Session struct {
	User   *store.Identity
	Tokens token.Pair
}

type Service struct {
	db       store.DB
	creds    *credential.Store
	issuer   *token.Issuer
	sessions *session.Registry
	validate *validate.Validator
	log      *slog.Logger
}

func NewService(db store.DB, creds *credential.Store, issuer *token.Issuer, sessions *session.Registry, v *validate.Validator, log *slog.Logger) *Service {
	return &Service{db: db, creds: creds, issuer: issuer, sessions: sessions, validate: v, log: log}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (u *store.Identity, err error) {
	defer func() { metrics.RecordAuth("register", outcome(err)) }()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	hash, err := s.creds.Apply(ctx, "", credential.Set(in.Password))
	if err != nil {
		return nil, err
	}
	u, err = s.db.CreateIdentity(ctx, store.NewIdentity{
		Username:       in.Username,
		Email:          in.Email,
		DisplayName:    in.DisplayName,
		CredentialHash: hash,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.Conflict {
			return nil, err
		}
		return nil, apperr.Internalf(err, "create identity")
	}
	s.log.Info("identity registered", "user_id", u.ID)
	return u, nil
}

// Login verifies the credential and starts a new session. Unknown logins
// still pay for a hash comparison.
func (s *Service) Login(ctx context.Context, in LoginInput) (sess *Session, err error) {
	defer func() { metrics.RecordAuth("login", outcome(err)) }()

	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	login := in.login()
	if login == "" {
		return nil, apperr.New(apperr.Validation, "validation failed", "identifier is required")
	}

	u, err := s.db.IdentityByLogin(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		s.creds.VerifyDecoy(ctx, in.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Internalf(err, "load identity")
	}
	if !s.creds.Verify(ctx, in.Password, u.CredentialHash) {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.sessions.Start(ctx, u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Tokens: pair}, nil
}

func (s *Service) Refresh(ctx context.Context, raw string) (sess *Session, err error) {
	defer func() { metrics.RecordAuth("refresh", outcome(err)) }()

	if strings.TrimSpace(raw) == "" {
		return nil, apperr.New(apperr.TokenInvalid, "refresh token is required")
	}
	pair, u, err := s.sessions.Rotate(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Tokens: pair}, nil
}

// Logout ends the session of id. It succeeds whether or not a session exists.
func (s *Service) Logout(ctx context.Context, id string) (err error) {
	defer func() { metrics.RecordAuth("logout", outcome(err)) }()
	return s.sessions.End(ctx, id)
}

// VerifyAccess checks an access token and returns its claims.
func (s *Service) VerifyAccess(raw string) (*token.Claims, error) {
	return s.issuer.Verify(raw, token.Access)
}

func (s *Service) Me(ctx context.Context, id string) (*store.Identity, error) {
	u, err := s.db.IdentityByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internalf(err, "load identity")
	}
	return u, nil
}

// UpdateProfile changes profile fields. The stored credential hash is not
// touched.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileInput) (*store.Identity, error) {
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		in.DisplayName = &name
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		in.Email = &email
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	u, err := s.db.UpdateProfile(ctx, id, store.ProfileUpdate{DisplayName: in.DisplayName, Email: in.Email})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.New(apperr.NotFound, "user not found")
	case apperr.KindOf(err) == apperr.Conflict:
		return nil, err
	case err != nil:
		return nil, apperr.Internalf(err, "update profile")
	}
	return u, nil
}

// ChangePassword re-hashes the credential and ends the current session, so
// every outstanding refresh token stops working.
func (s *Service) ChangePassword(ctx context.Context, id string, in PasswordChangeInput) (err error) {
	defer func() { metrics.RecordAuth("change_password", outcome(err)) }()

	if err := s.validate.Struct(in); err != nil {
		return err
	}
	u, err := s.Me(ctx, id)
	if err != nil {
		return err
	}
	if !s.creds.Verify(ctx, in.OldPassword, u.CredentialHash) {
		return apperr.New(apperr.Authentication, "old password is incorrect")
	}
	hash, err := s.creds.Apply(ctx, u.CredentialHash, credential.Set(in.NewPassword))
	if err != nil {
		return err
	}
	if err := s.db.UpdateCredentialHash(ctx, id, hash); err != nil {
		return apperr.Internalf(err, "update credential")
	}
	if err := s.sessions.End(ctx, id); err != nil {
		return err
	}
	s.log.Info("password changed, session ended", "user_id", id)
	return nil
}
