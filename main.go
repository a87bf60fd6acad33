package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/reelhub/internal/auth"
	"github.com/example/reelhub/internal/config"
	"github.com/example/reelhub/internal/credential"
	"github.com/example/reelhub/internal/feed"
	"github.com/example/reelhub/internal/logger"
	"github.com/example/reelhub/internal/paginate"
	"github.com/example/reelhub/internal/session"
	"github.com/example/reelhub/internal/store"
	"github.com/example/reelhub/internal/token"
	"github.com/example/reelhub/internal/validate"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	DB           store.DB
	auth         *auth.Service
	feed         *feed.Service
	log          *slog.Logger
	rateLimiter  *RateLimiter
	cookieSecure bool
	corsOrigins  []string
	deps         map[string]pinger
}

// hashers returns the configured primary hasher and the other algorithm as
// verify-only, so hashes written under a previous setting keep working.
func hashers(c *config.Config) (credential.Hasher, credential.Hasher, error) {
	b, err := credential.NewBcrypt(c.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	a, err := credential.NewArgon2(credential.DefaultArgon2Params)
	if err != nil {
		return nil, nil, err
	}
	if c.PasswordHasher == "argon2id" {
		return a, b, nil
	}
	return b, a, nil
}

// newApp builds the services on top of db. sessions defaults to db.
func newApp(c *config.Config, db store.DB, sessions session.Store, log *slog.Logger) (*App, error) {
	primary, legacy, err := hashers(c)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(c.AccessTokenSecret),
		AccessTTL:     c.AccessTokenExpiry,
		RefreshSecret: []byte(c.RefreshTokenSecret),
		RefreshTTL:    c.RefreshTokenExpiry,
		Issuer:        c.TokenIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	deps := map[string]pinger{"database": db}
	if p, ok := sessions.(pinger); ok {
		deps["sessions"] = p
	}
	if sessions == nil {
		sessions = db
	}

	v := validate.New()
	registry := session.NewRegistry(issuer, db, sessions, logger.WithComponent(log, "session"))
	creds, err := credential.NewStore(primary, c.HashConcurrency, legacy)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	paginator := paginate.New(db.Executor(), paginate.Options{
		DefaultPageSize: c.PageSizeDefault,
		MaxPageSize:     c.PageSizeMax,
	})

	app := &App{
		DB:           db,
		auth:         auth.NewService(db, creds, issuer, registry, v, logger.WithComponent(log, "auth")),
		feed:         feed.NewService(db, paginator, v),
		log:          log,
		rateLimiter:  NewRateLimiter(c.RateLimitPerMinute),
		cookieSecure: c.CookieSecure,
		corsOrigins:  c.CORSOrigins,
		deps:         deps,
	}
	return app, nil
}

func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	r.HandleFunc("/health", a.HandleHealth).Methods("GET")
	r.HandleFunc("/ready", a.HandleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	limited := func(h http.HandlerFunc) http.Handler { return a.RateLimit(h) }
	authed := func(h http.HandlerFunc) http.Handler { return a.Authenticate(h) }

	v1 := r.PathPrefix("/api/v1").Subrouter()

	users := v1.PathPrefix("/users").Subrouter()
	users.Handle("/register", limited(a.HandleRegister)).Methods("POST", "OPTIONS")
	users.Handle("/login", limited(a.HandleLogin)).Methods("POST", "OPTIONS")
	users.Handle("/refresh-token", limited(a.HandleRefresh)).Methods("POST", "OPTIONS")
	users.Handle("/logout", authed(a.HandleLogout)).Methods("POST", "OPTIONS")
	users.Handle("/me", authed(a.HandleMe)).Methods("GET", "OPTIONS")
	users.Handle("/me", authed(a.HandleUpdateMe)).Methods("PATCH")
	users.Handle("/change-password", authed(a.HandleChangePassword)).Methods("POST", "OPTIONS")

	v1.Handle("/videos", authed(a.HandleListVideos)).Methods("GET", "OPTIONS")
	v1.Handle("/videos", authed(a.HandleCreateVideo)).Methods("POST")

	return r
}

func openDB(ctx context.Context, c *config.Config, log *slog.Logger) (store.DB, error) {
	switch c.DBAdapter {
	case "postgres":
		log.Info("applying database migrations")
		if err := store.ApplyMigrations(c.PostgresDSN, log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		db, err := store.NewPostgresDB(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		log.Info("connected to PostgreSQL database")
		return db, nil
	case "sqlite":
		db, err := store.NewSQLiteDB(ctx, c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		log.Info("using SQLite database", "file", c.SQLiteFile)
		return db, nil
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return store.NewMemoryDB(), nil
	}
	return nil, fmt.Errorf("unsupported DB_ADAPTER: %s", c.DBAdapter)
}

func openSessions(ctx context.Context, c *config.Config, log *slog.Logger) (session.Store, func() error, error) {
	if c.SessionBackend != "redis" {
		return nil, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("using redis session store", "addr", opts.Addr)
	return session.NewRedisStore(client, c.RefreshTokenExpiry), client.Close, nil
}

func main() {
	c, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(c.LogLevel, c.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := openDB(ctx, c, log)
	if err != nil {
		cancel()
		log.Error("database setup failed", "error", err)
		os.Exit(1)
	}
	sessions, closeSessions, err := openSessions(ctx, c, log)
	cancel()
	if err != nil {
		log.Error("session store setup failed", "error", err)
		os.Exit(1)
	}

	app, err := newApp(c, db, sessions, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           app.Router(),
		Addr:              ":" + c.Port,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("starting server", "port", c.Port, "env", c.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
	if err := errors.Join(closeSessions(), db.Close()); err != nil {
		log.Error("closing resources", "error", err)
	}
	log.Info("server exited properly")
}
