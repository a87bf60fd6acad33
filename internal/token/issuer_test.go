package token

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reelhub/internal/apperr"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var alice = Subject{ID: "7f0c2d4e-0000-4000-8000-000000000001", Email: "alice@example.com", Username: "alice", DisplayName: "Alice"}

func newTestIssuer(t *testing.T) (*Issuer, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	iss, err := NewIssuer(Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshSecret: []byte("refresh-secret-for-tests"),
		RefreshTTL:    240 * time.Hour,
		Issuer:        "reelhub-test",
		Now:           c.Now,
	})
	require.NoError(t, err)
	return iss, c
}

func payloadKeys(t *testing.T, raw string) []string {
	t.Helper()
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestAccessRoundTrip(t *testing.T) {
	iss, c := newTestIssuer(t)

	raw, exp, err := iss.IssueAccess(alice)
	require.NoError(t, err)
	assert.WithinDuration(t, c.now.Add(15*time.Minute), exp, time.Second)

	claims, err := iss.Verify(raw, Access)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.Subject)
	assert.Equal(t, alice.Email, claims.Email)
	assert.Equal(t, alice.Username, claims.Username)
	assert.Equal(t, alice.DisplayName, claims.DisplayName)
	assert.Equal(t, Access, claims.Kind)
}

func TestAccessExpires(t *testing.T) {
	iss, c := newTestIssuer(t)
	raw, _, err := iss.IssueAccess(alice)
	require.NoError(t, err)

	c.Advance(15*time.Minute - time.Second)
	_, err = iss.Verify(raw, Access)
	require.NoError(t, err)

	// now == exp counts as expired
	c.Advance(time.Second)
	_, err = iss.Verify(raw, Access)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshClaimsAreMinimal(t *testing.T) {
	iss, _ := newTestIssuer(t)
	raw, _, err := iss.IssueRefresh(alice)
	require.NoError(t, err)

	assert.Equal(t, []string{"exp", "iat", "iss", "jti", "sub", "typ"}, payloadKeys(t, raw))

	claims, err := iss.Verify(raw, Refresh)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.Subject)
	assert.Empty(t, claims.Email)
	assert.Empty(t, claims.Username)
}

func TestKindMismatch(t *testing.T) {
	iss, _ := newTestIssuer(t)
	pair, err := iss.IssuePair(alice)
	require.NoError(t, err)

	_, err = iss.Verify(pair.AccessToken, Refresh)
	assert.ErrorIs(t, err, ErrTokenKindMismatch)
	_, err = iss.Verify(pair.RefreshToken, Access)
	assert.ErrorIs(t, err, ErrTokenKindMismatch)
}

func TestSameSecretWrongTypIsMismatch(t *testing.T) {
	iss, c := newTestIssuer(t)
	claims := Claims{Kind: Refresh, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   alice.ID,
		Issuer:    "reelhub-test",
		IssuedAt:  jwt.NewNumericDate(c.now),
		ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("access-secret-for-tests"))
	require.NoError(t, err)

	_, err = iss.Verify(raw, Access)
	assert.ErrorIs(t, err, ErrTokenKindMismatch)
}

func TestInvalidTokens(t *testing.T) {
	iss, c := newTestIssuer(t)
	raw, _, err := iss.IssueAccess(alice)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Kind: Access, RegisteredClaims: jwt.RegisteredClaims{
		Subject: alice.ID, Issuer: "reelhub-test",
		IssuedAt: jwt.NewNumericDate(c.now), ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
	}}).SignedString([]byte("someone-elses-secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Kind: Access, RegisteredClaims: jwt.RegisteredClaims{
		Subject: alice.ID, ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Kind: Access, RegisteredClaims: jwt.RegisteredClaims{
		Issuer: "reelhub-test", IssuedAt: jwt.NewNumericDate(c.now), ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
	}}).SignedString([]byte("access-secret-for-tests"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not.a.jwt",
		"tampered":   raw[:len(raw)-2] + "xx",
		"foreign":    foreign,
		"alg none":   none,
		"no subject": noSubject,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Verify(tok, Access)
			assert.Equal(t, apperr.TokenInvalid, apperr.KindOf(err))
		})
	}
}

func TestWrongIssuerIsInvalid(t *testing.T) {
	iss, c := newTestIssuer(t)
	otherIss, err := NewIssuer(Config{
		AccessSecret: []byte("access-secret-for-tests"), AccessTTL: time.Minute,
		RefreshSecret: []byte("refresh-secret-for-tests"), RefreshTTL: time.Hour,
		Issuer: "somebody-else", Now: c.Now,
	})
	require.NoError(t, err)
	raw, _, err := otherIss.IssueAccess(alice)
	require.NoError(t, err)

	_, err = iss.Verify(raw, Access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokensAreUniqueWithinOneSecond(t *testing.T) {
	iss, _ := newTestIssuer(t)
	a, _, err := iss.IssueRefresh(alice)
	require.NoError(t, err)
	b, _, err := iss.IssueRefresh(alice)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewIssuerValidation(t *testing.T) {
	base := Config{AccessSecret: []byte("a"), RefreshSecret: []byte("b"), AccessTTL: time.Minute, RefreshTTL: time.Hour}

	same := base
	same.RefreshSecret = []byte("a")
	_, err := NewIssuer(same)
	assert.Error(t, err)

	missing := base
	missing.AccessSecret = nil
	_, err = NewIssuer(missing)
	assert.Error(t, err)

	noTTL := base
	noTTL.RefreshTTL = 0
	_, err = NewIssuer(noTTL)
	assert.Error(t, err)

	_, err = NewIssuer(base)
	assert.NoError(t, err)
}

func TestIssueRequiresSubject(t *testing.T) {
	iss, _ := newTestIssuer(t)
	_, _, err := iss.IssueAccess(Subject{})
	assert.Error(t, err)
}
