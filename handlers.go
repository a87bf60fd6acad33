package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/auth"
	"github.com/example/reelhub/internal/feed"
	"github.com/example/reelhub/internal/token"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

type sessionResponse struct {
	User         auth.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		User:         auth.Public(s.User),
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
	}
}

func (a *App) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (a *App) setSessionCookies(w http.ResponseWriter, p token.Pair) {
	http.SetCookie(w, a.cookie(accessCookie, p.AccessToken, p.AccessExpiresAt))
	http.SetCookie(w, a.cookie(refreshCookie, p.RefreshToken, p.RefreshExpiresAt))
}

func (a *App) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		c := a.cookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// subject returns the authenticated user id. Only valid behind Authenticate.
func subject(r *http.Request) string {
	if c, ok := claimsFrom(r.Context()); ok {
		return c.Subject
	}
	return ""
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		a.respondError(w, r, err)
		return
	}
	u, err := a.auth.Register(r.Context(), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, auth.Public(u), "user registered successfully")
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		a.respondError(w, r, err)
		return
	}
	sess, err := a.auth.Login(r.Context(), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.setSessionCookies(w, sess.Tokens)
	writeSuccess(w, http.StatusOK, newSessionResponse(sess), "user logged in successfully")
}

// refreshToken finds the presented refresh token. A token sent explicitly in
// the JSON body or the X-Refresh-Token header wins over the cookie.
func refreshToken(w http.ResponseWriter, r *http.Request) (string, error) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(w, r, &body, true); err != nil {
		return "", err
	}
	if tok := strings.TrimSpace(body.RefreshToken); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(r.Header.Get("X-Refresh-Token")); tok != "" {
		return tok, nil
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value, nil
	}
	return "", nil
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, err := refreshToken(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	sess, err := a.auth.Refresh(r.Context(), raw)
	if err != nil {
		if apperr.KindOf(err) == apperr.SessionCompromised {
			a.clearSessionCookies(w)
		}
		a.respondError(w, r, err)
		return
	}
	a.setSessionCookies(w, sess.Tokens)
	writeSuccess(w, http.StatusOK, newSessionResponse(sess), "access token refreshed")
}

// HandleLogout always answers 200. A failure to clear the stored session is
// logged but not reported to the client.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(r.Context(), subject(r)); err != nil {
		a.log.Error("logout failed", "user_id", subject(r), "error", err)
	}
	a.clearSessionCookies(w)
	writeSuccess(w, http.StatusOK, nil, "user logged out")
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.auth.Me(r.Context(), subject(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.Public(u), "current user fetched")
}

func (a *App) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var in auth.ProfileInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		a.respondError(w, r, err)
		return
	}
	u, err := a.auth.UpdateProfile(r.Context(), subject(r), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.Public(u), "profile updated")
}

func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in auth.PasswordChangeInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.auth.ChangePassword(r.Context(), subject(r), in); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	writeSuccess(w, http.StatusOK, nil, "password changed, please log in again")
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.New(apperr.Validation, "validation failed", name+" must be an integer")
	}
	return n, nil
}

func (a *App) HandleListVideos(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := a.feed.List(r.Context(), feed.ListQuery{
		Page:     page,
		PageSize: pageSize,
		Query:    q.Get("query"),
		SortBy:   q.Get("sortBy"),
		SortType: q.Get("sortType"),
		Owner:    q.Get("owner"),
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "videos fetched")
}

func (a *App) HandleCreateVideo(w http.ResponseWriter, r *http.Request) {
	var in feed.CreateVideoInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		a.respondError(w, r, err)
		return
	}
	v, err := a.feed.Create(r.Context(), subject(r), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, v, "video created")
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady pings every backing dependency.
func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, p := range a.deps {
		if err := p.Ping(ctx); err != nil {
			a.log.Warn("readiness check failed", "dependency", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "dependency": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
