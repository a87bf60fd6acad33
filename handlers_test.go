package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/reelhub/internal/config"
	"github.com/example/reelhub/internal/logger"
	"github.com/example/reelhub/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		DBAdapter:          "memory",
		AccessTokenSecret:  "access-secret-for-tests",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenSecret: "refresh-secret-for-tests",
		RefreshTokenExpiry: 24 * time.Hour,
		TokenIssuer:        "reelhub-test",
		PasswordHasher:     "bcrypt",
		BcryptCost:         bcrypt.MinCost,
		HashConcurrency:    2,
		PageSizeDefault:    10,
		PageSizeMax:        100,
		SessionBackend:     "store",
		CookieSecure:       true,
		CORSOrigins:        []string{"https://app.example.com"},
		RateLimitPerMinute: 1000,
	}
}

type harness struct {
	t   *testing.T
	app *App
	h   http.Handler
}

func newHarness(t *testing.T, c *config.Config) *harness {
	t.Helper()
	app, err := newApp(c, store.NewMemoryDB(), nil, logger.Discard())
	require.NoError(t, err)
	return &harness{t: t, app: app, h: app.Router()}
}

type response struct {
	StatusCode int             `json:"statusCode"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     []string        `json:"errors"`
}

func (h *harness) do(method, path string, body any, mutate ...func(*http.Request)) (*httptest.ResponseRecorder, response) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)

	var env response
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(name, value string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type loginData struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *harness) register(username string) {
	h.t.Helper()
	rec, env := h.do("POST", "/api/v1/users/register", map[string]string{
		"username": username, "email": username + "@example.com", "displayName": username, "password": "correct-pw",
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(h.t, env.Success)
}

func (h *harness) login(identifier string) (*httptest.ResponseRecorder, loginData) {
	h.t.Helper()
	rec, env := h.do("POST", "/api/v1/users/login", map[string]string{"identifier": identifier, "password": "correct-pw"})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	var d loginData
	require.NoError(h.t, json.Unmarshal(env.Data, &d))
	return rec, d
}

func TestRegisterEnvelope(t *testing.T) {
	h := newHarness(t, testConfig())

	rec, env := h.do("POST", "/api/v1/users/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "displayName": "Alice", "password": "correct-pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusCreated, env.StatusCode)
	assert.True(t, env.Success)
	assert.NotContains(t, string(env.Data), "credential")
	assert.NotContains(t, string(env.Data), "$2a$")

	rec, env = h.do("POST", "/api/v1/users/register", map[string]string{
		"username": "alice", "email": "other@example.com", "displayName": "A", "password": "correct-pw",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "username is already taken", env.Message)
	assert.NotNil(t, env.Errors)

	rec, env = h.do("POST", "/api/v1/users/register", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, env.Errors)
}

func TestMalformedBody(t *testing.T) {
	h := newHarness(t, testConfig())
	req := httptest.NewRequest("POST", "/api/v1/users/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestLoginSetsCookies(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")

	rec, d := h.login("alice")
	assert.Equal(t, "alice", d.User.Username)
	assert.NotEmpty(t, d.AccessToken)
	assert.NotEmpty(t, d.RefreshToken)

	for _, name := range []string{accessCookie, refreshCookie} {
		c := cookieNamed(rec, name)
		require.NotNil(t, c, name)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	}
	assert.Equal(t, d.RefreshToken, cookieNamed(rec, refreshCookie).Value)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")

	wrong, _ := h.do("POST", "/api/v1/users/login", map[string]string{"identifier": "alice", "password": "wrong-pw"})
	unknown, _ := h.do("POST", "/api/v1/users/login", map[string]string{"identifier": "nobody", "password": "wrong-pw"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Contains(t, wrong.Body.String(), "invalid credentials")
}

func TestMeRequiresAccessToken(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, d := h.login("alice")

	rec, _ := h.do("GET", "/api/v1/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do("GET", "/api/v1/users/me", nil, bearer(d.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := h.do("GET", "/api/v1/users/me", nil, bearer(d.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"username":"alice"`)

	rec, _ = h.do("GET", "/api/v1/users/me", nil, withCookie(accessCookie, d.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshSources(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, d := h.login("alice")

	rec, env := h.do("POST", "/api/v1/users/refresh-token", nil, withCookie(refreshCookie, d.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next loginData
	require.NoError(t, json.Unmarshal(env.Data, &next))
	assert.NotEqual(t, d.RefreshToken, next.RefreshToken)

	rec, env = h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": next.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &next))

	rec, _ = h.do("POST", "/api/v1/users/refresh-token", nil, func(r *http.Request) {
		r.Header.Set("X-Refresh-Token", next.RefreshToken)
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = h.do("POST", "/api/v1/users/refresh-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh token is required", env.Message)
}

func TestExplicitRefreshTokenWinsOverCookie(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, stale := h.login("alice")

	rec, env := h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": stale.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var fresh loginData
	require.NoError(t, json.Unmarshal(env.Data, &fresh))

	// the browser still holds the rotated cookie
	rec, env = h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": fresh.RefreshToken},
		withCookie(refreshCookie, stale.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &fresh))

	rec, _ = h.do("POST", "/api/v1/users/refresh-token", nil,
		withCookie(refreshCookie, stale.RefreshToken),
		func(r *http.Request) { r.Header.Set("X-Refresh-Token", fresh.RefreshToken) })
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshReuseClearsSession(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, d := h.login("alice")

	rec, env := h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": d.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var next loginData
	require.NoError(t, json.Unmarshal(env.Data, &next))

	rec, env = h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": d.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", env.Message)
	c := cookieNamed(rec, refreshCookie)
	require.NotNil(t, c)
	assert.Empty(t, c.Value)

	rec, _ = h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": next.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, d := h.login("alice")

	for i := 0; i < 2; i++ {
		rec, env := h.do("POST", "/api/v1/users/logout", nil, bearer(d.AccessToken))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, env.Success)
		c := cookieNamed(rec, accessCookie)
		require.NotNil(t, c)
		assert.True(t, c.MaxAge < 0)
	}

	rec, _ := h.do("POST", "/api/v1/users/refresh-token", map[string]string{"refreshToken": d.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfileAndPassword(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, d := h.login("alice")

	rec, env := h.do("PATCH", "/api/v1/users/me", map[string]string{"displayName": "Alice L"}, bearer(d.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), "Alice L")

	// the profile update must not have touched the credential
	h.login("alice")

	rec, _ = h.do("POST", "/api/v1/users/change-password",
		map[string]string{"oldPassword": "wrong-pw", "newPassword": "brand-new-pw"}, bearer(d.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do("POST", "/api/v1/users/change-password",
		map[string]string{"oldPassword": "correct-pw", "newPassword": "brand-new-pw"}, bearer(d.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = h.do("POST", "/api/v1/users/login", map[string]string{"identifier": "alice", "password": "brand-new-pw"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVideos(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register("alice")
	_, d := h.login("alice")

	for _, title := range []string{"Cats", "Dogs", "Birds"} {
		rec, _ := h.do("POST", "/api/v1/videos", map[string]any{"title": title, "durationSeconds": 30}, bearer(d.AccessToken))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec, _ := h.do("POST", "/api/v1/videos", map[string]any{"title": ""}, bearer(d.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := h.do("GET", "/api/v1/videos?pageSize=2&sortBy=title&sortType=asc", nil, bearer(d.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Docs []struct {
			Title string         `json:"title"`
			Owner map[string]any `json:"owner"`
		} `json:"docs"`
		TotalDocs   int  `json:"totalDocs"`
		HasNextPage bool `json:"hasNextPage"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 3, page.TotalDocs)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "Birds", page.Docs[0].Title)
	assert.Equal(t, "alice", page.Docs[0].Owner["username"])
	assert.NotContains(t, page.Docs[0].Owner, "email")

	rec, _ = h.do("GET", "/api/v1/videos?page=abc", nil, bearer(d.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do("GET", "/api/v1/videos", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	c := testConfig()
	c.RateLimitPerMinute = 2
	h := newHarness(t, c)

	body := map[string]string{"identifier": "nobody", "password": "wrong-pw"}
	for i := 0; i < 2; i++ {
		rec, _ := h.do("POST", "/api/v1/users/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, env := h.do("POST", "/api/v1/users/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", env.Message)

	rec, _ = h.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	h := newHarness(t, testConfig())

	rec, _ := h.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec, _ = h.do("GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())

	h.do("GET", "/health", nil)
	req := httptest.NewRequest("GET", "/metrics", nil)
	mrec := httptest.NewRecorder()
	h.h.ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), "reelhub_http_requests_total")
}

func TestCORS(t *testing.T) {
	h := newHarness(t, testConfig())

	rec, _ := h.do("OPTIONS", "/api/v1/users/login", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec, _ = h.do("OPTIONS", "/api/v1/users/login", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example.com")
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestInternalErrorsAreHidden(t *testing.T) {
	h := newHarness(t, testConfig())
	rec := httptest.NewRecorder()
	h.app.respondError(rec, httptest.NewRequest("GET", "/", nil), errors.New("pq: connection refused on 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"statusCode":500,"success":false,"message":"internal server error","errors":[]}`, rec.Body.String())
}
