package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAccessSecret  = "change-me-access"
	defaultRefreshSecret = "change-me-refresh"
)

type Config struct {
	Port       string
	Env        string
	LogLevel   string
	DBAdapter  string
	SQLiteFile string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Token signing. Access and refresh use distinct secrets.
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenSecret string
	RefreshTokenExpiry time.Duration
	TokenIssuer        string

	PasswordHasher  string
	BcryptCost      int
	HashConcurrency int

	PageSizeDefault int
	PageSizeMax     int

	// SessionBackend is "store" (refresh hash on the user row) or "redis".
	SessionBackend string
	RedisURL       string

	CookieSecure       bool
	CORSOrigins        []string
	RateLimitPerMinute int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// Load reads the optional dotenv files (missing files are ignored) and then
// builds the configuration from the environment.
func Load(files ...string) (*Config, error) {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, fmt.Errorf("loading env files: %w", err)
		}
	}
	return New()
}

func New() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "8000"),
		Env:        strings.ToLower(getenv("ENV", getenv("GO_ENV", "development"))),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/reelhub.db"),

		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "reelhub")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "reelhub")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "reelhub")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),

		AccessTokenSecret:  getenv("ACCESS_TOKEN_SECRET", defaultAccessSecret),
		RefreshTokenSecret: getenv("REFRESH_TOKEN_SECRET", defaultRefreshSecret),
		TokenIssuer:        getenv("TOKEN_ISSUER", "reelhub"),
		PasswordHasher:     strings.ToLower(getenv("PASSWORD_HASHER", "bcrypt")),
		SessionBackend:     strings.ToLower(getenv("SESSION_BACKEND", "store")),
		RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
	}

	var err error
	if c.AccessTokenExpiry, err = getduration("ACCESS_TOKEN_EXPIRY", 15*time.Minute); err != nil {
		return nil, err
	}
	if c.RefreshTokenExpiry, err = getduration("REFRESH_TOKEN_EXPIRY", 10*24*time.Hour); err != nil {
		return nil, err
	}
	if c.BcryptCost, err = getint("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if c.HashConcurrency, err = getint("HASH_CONCURRENCY", runtime.GOMAXPROCS(0)); err != nil {
		return nil, err
	}
	if c.PageSizeDefault, err = getint("PAGE_SIZE_DEFAULT", 10); err != nil {
		return nil, err
	}
	if c.PageSizeMax, err = getint("PAGE_SIZE_MAX", 100); err != nil {
		return nil, err
	}
	if c.RateLimitPerMinute, err = getint("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	c.CookieSecure, err = strconv.ParseBool(getenv("COOKIE_SECURE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid COOKIE_SECURE: %w", err)
	}
	for _, o := range strings.Split(getenv("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORSOrigins = append(c.CORSOrigins, o)
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be set")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.IsProduction() {
		if c.AccessTokenSecret == defaultAccessSecret || c.RefreshTokenSecret == defaultRefreshSecret {
			return errors.New("token secrets must be set in production")
		}
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		return errors.New("token expiries must be positive")
	}
	if c.AccessTokenExpiry >= c.RefreshTokenExpiry {
		return errors.New("ACCESS_TOKEN_EXPIRY must be shorter than REFRESH_TOKEN_EXPIRY")
	}

	switch c.PasswordHasher {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("unsupported PASSWORD_HASHER: %s (supported: bcrypt, argon2id)", c.PasswordHasher)
	}
	if c.HashConcurrency < 1 {
		return errors.New("HASH_CONCURRENCY must be at least 1")
	}
	if c.RateLimitPerMinute < 1 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.PageSizeMax < 1 || c.PageSizeDefault < 1 || c.PageSizeDefault > c.PageSizeMax {
		return errors.New("page size bounds must satisfy 1 <= PAGE_SIZE_DEFAULT <= PAGE_SIZE_MAX")
	}

	switch c.SessionBackend {
	case "store":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL must be set when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND: %s (supported: store, redis)", c.SessionBackend)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}
	return nil
}
