// Package token issues and verifies the signed access and refresh tokens.
//
// The two kinds are signed with different secrets and carry different claim
// sets: an access token names the identity's profile, a refresh token only
// its subject id. A token signed for one kind never verifies as the other.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/reelhub/internal/apperr"
)

type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

var (
	ErrTokenExpired      = apperr.New(apperr.TokenExpired, "token has expired")
	ErrTokenInvalid      = apperr.New(apperr.TokenInvalid, "token is invalid")
	ErrTokenKindMismatch = apperr.New(apperr.TokenKindMismatch, "token kind mismatch")
)

// Subject is the identity a token is issued for.
type Subject struct {
	ID          string
	Email       string
	Username    string
	DisplayName string
}

// Claims is the verified payload. Profile fields are empty on refresh tokens.
type Claims struct {
	Kind        Kind   `json:"typ"`
	Email       string `json:"email,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Pair is the result of a login or a refresh.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type Config struct {
	AccessSecret  []byte
	AccessTTL     time.Duration
	RefreshSecret []byte
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Issuer struct {
	config Config
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{config: cfg}, nil
}

// IssueAccess signs the access claim set with the access secret.
func (i *Issuer) IssueAccess(s Subject) (string, time.Time, error) {
	return i.sign(Access, Claims{
		Email:       s.Email,
		Username:    s.Username,
		DisplayName: s.DisplayName,
	}, s.ID)
}

// IssueRefresh signs the minimal claim set with the refresh secret.
func (i *Issuer) IssueRefresh(s Subject) (string, time.Time, error) {
	return i.sign(Refresh, Claims{}, s.ID)
}

func (i *Issuer) IssuePair(s Subject) (Pair, error) {
	var (
		p   Pair
		err error
	)
	if p.AccessToken, p.AccessExpiresAt, err = i.IssueAccess(s); err != nil {
		return Pair{}, err
	}
	if p.RefreshToken, p.RefreshExpiresAt, err = i.IssueRefresh(s); err != nil {
		return Pair{}, err
	}
	return p, nil
}

// RefreshTTL is the lifetime of refresh tokens, used for cookie and store expiry.
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }

func (i *Issuer) sign(kind Kind, claims Claims, subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	now := i.config.Now()
	exp := now.Add(i.ttl(kind))
	claims.Kind = kind
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		// Unique per token so a rotation never reproduces the stored value.
		ID: uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret(kind))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks raw as a token of the given kind. Expired tokens fail with
// ErrTokenExpired, tokens of the other kind with ErrTokenKindMismatch and
// everything else with ErrTokenInvalid.
func (i *Issuer) Verify(raw string, kind Kind) (*Claims, error) {
	claims, err := i.parse(raw, kind)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperr.Wrap(apperr.TokenExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if _, otherErr := i.parse(raw, other(kind)); otherErr == nil || errors.Is(otherErr, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.TokenKindMismatch, "token kind mismatch", err)
		}
		return nil, apperr.Wrap(apperr.TokenInvalid, "token is invalid", err)
	default:
		return nil, apperr.Wrap(apperr.TokenInvalid, "token is invalid", err)
	}

	if claims.Kind != kind {
		return nil, apperr.New(apperr.TokenKindMismatch, "token kind mismatch")
	}
	if claims.Subject == "" {
		return nil, apperr.New(apperr.TokenInvalid, "token is invalid")
	}
	return claims, nil
}

func (i *Issuer) parse(raw string, kind Kind) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.config.Now),
	}
	if i.config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.config.Issuer))
	}

	claims := &Claims{}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret(kind), nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (i *Issuer) secret(kind Kind) []byte {
	if kind == Refresh {
		return i.config.RefreshSecret
	}
	return i.config.AccessSecret
}

func (i *Issuer) ttl(kind Kind) time.Duration {
	if kind == Refresh {
		return i.config.RefreshTTL
	}
	return i.config.AccessTTL
}

func other(kind Kind) Kind {
	if kind == Refresh {
		return Access
	}
	return Refresh
}
