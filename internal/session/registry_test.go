package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/logger"
	"github.com/example/reelhub/internal/store"
	"github.com/example/reelhub/internal/token"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	reg   *Registry
	db    *store.MemDB
	store Store
	clock *clock
	user  *store.Identity
}

func newIssuer(t *testing.T, c *clock) *token.Issuer {
	t.Helper()
	iss, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshSecret: []byte("refresh-secret-for-tests"),
		RefreshTTL:    24 * time.Hour,
		Issuer:        "reelhub-test",
		Now:           c.Now,
	})
	require.NoError(t, err)
	return iss
}

func newFixture(t *testing.T, backend func(t *testing.T, db *store.MemDB) Store) *fixture {
	t.Helper()
	c := &clock{now: time.Now().Truncate(time.Second)}
	db := store.NewMemoryDB()
	u, err := db.CreateIdentity(context.Background(), store.NewIdentity{
		Username: "alice", Email: "alice@example.com", DisplayName: "Alice", CredentialHash: "$2a$10$stub",
	})
	require.NoError(t, err)
	s := backend(t, db)
	return &fixture{reg: NewRegistry(newIssuer(t, c), db, s, logger.Discard()), db: db, store: s, clock: c, user: u}
}

func memBackend(_ *testing.T, db *store.MemDB) Store { return db }

func redisBackend(t *testing.T, _ *store.MemDB) Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, 24*time.Hour)
}

func eachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("store", func(t *testing.T) { fn(t, newFixture(t, memBackend)) })
	t.Run("redis", func(t *testing.T) { fn(t, newFixture(t, redisBackend)) })
}

func TestStartStoresOnlyHash(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		pair, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)

		h, err := f.store.RefreshHash(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, HashToken(pair.RefreshToken), h)
		assert.NotEqual(t, pair.RefreshToken, h)
		assert.Len(t, h, 64)
	})
}

func TestRotateIssuesNewPair(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		first, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)

		next, u, err := f.reg.Rotate(ctx, first.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, u.ID)
		assert.NotEqual(t, first.RefreshToken, next.RefreshToken)

		h, _ := f.store.RefreshHash(ctx, f.user.ID)
		assert.Equal(t, HashToken(next.RefreshToken), h)

		_, _, err = f.reg.Rotate(ctx, next.RefreshToken)
		assert.NoError(t, err)
	})
}

func TestReuseRevokesSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		first, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)
		second, _, err := f.reg.Rotate(ctx, first.RefreshToken)
		require.NoError(t, err)

		_, _, err = f.reg.Rotate(ctx, first.RefreshToken)
		assert.ErrorIs(t, err, ErrSessionCompromised)
		assert.Equal(t, apperr.SessionCompromised, apperr.KindOf(err))

		h, err := f.store.RefreshHash(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Empty(t, h)

		// the legitimately rotated token died with the session
		_, _, err = f.reg.Rotate(ctx, second.RefreshToken)
		assert.Equal(t, apperr.TokenInvalid, apperr.KindOf(err))
	})
}

func TestNewLoginSupersedesOldSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		old, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)
		_, err = f.reg.Start(ctx, f.user)
		require.NoError(t, err)

		_, _, err = f.reg.Rotate(ctx, old.RefreshToken)
		assert.ErrorIs(t, err, ErrSessionCompromised)
	})
}

func TestEndIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		pair, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)

		require.NoError(t, f.reg.End(ctx, f.user.ID))
		require.NoError(t, f.reg.End(ctx, f.user.ID))
		require.NoError(t, f.reg.End(ctx, "never-logged-in"))

		_, _, err = f.reg.Rotate(ctx, pair.RefreshToken)
		assert.Equal(t, apperr.TokenInvalid, apperr.KindOf(err))
	})
}

func TestRotateRejectsBadTokens(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		pair, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)

		_, _, err = f.reg.Rotate(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, token.ErrTokenKindMismatch)

		_, _, err = f.reg.Rotate(ctx, "not-a-token")
		assert.ErrorIs(t, err, token.ErrTokenInvalid)

		f.clock.Advance(25 * time.Hour)
		_, _, err = f.reg.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, token.ErrTokenExpired)
	})
}

func TestRotateUnknownSubject(t *testing.T) {
	f := newFixture(t, memBackend)
	ghost := &store.Identity{ID: "ghost", Username: "ghost"}
	pair, err := newIssuer(t, f.clock).IssuePair(SubjectOf(ghost))
	require.NoError(t, err)

	_, _, err = f.reg.Rotate(context.Background(), pair.RefreshToken)
	assert.Equal(t, apperr.TokenInvalid, apperr.KindOf(err))
}

func TestConcurrentRotateHasOneWinner(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		pair, err := f.reg.Start(ctx, f.user)
		require.NoError(t, err)

		const n = 10
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = f.reg.Rotate(ctx, pair.RefreshToken)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			kind := apperr.KindOf(err)
			assert.True(t, kind == apperr.SessionCompromised || kind == apperr.TokenInvalid, "unexpected %v", err)
		}
		assert.Equal(t, 1, wins)
	})
}

func TestRedisSessionExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.SetRefreshHash(ctx, "u1", "h1"))
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"u1"))

	ok, err := s.SwapRefreshHash(ctx, "u1", "h1", "h2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"u1"))

	ok, err = s.SwapRefreshHash(ctx, "missing", "h1", "h2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(keyPrefix+"missing"))

	mr.FastForward(2 * time.Hour)
	h, err := s.RefreshHash(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, h)
	assert.NoError(t, s.Ping(ctx))
}
