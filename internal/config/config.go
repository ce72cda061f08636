package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration for the fingerprintd server.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Fingerprint FingerprintConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port         int
	Env          string
	LogLevel     slog.Level
	TLSCertFile  string
	TLSKeyFile   string
	ClientCAFile string
	CORSOrigins  []string
	MaxBodyBytes int64
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type StoreConfig struct {
	Driver               string
	SQLitePath           string
	MigrationsDir        string
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	ListCacheTTL time.Duration
}

type FingerprintConfig struct {
	StripFields []string
}

type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	level, err := parseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         envInt("FINGERPRINTD_PORT", 4000),
			Env:          envString("FINGERPRINTD_ENV", "development"),
			LogLevel:     level,
			TLSCertFile:  os.Getenv("TLS_CERT_FILE"),
			TLSKeyFile:   os.Getenv("TLS_KEY_FILE"),
			ClientCAFile: os.Getenv("TLS_CLIENT_CA_FILE"),
			CORSOrigins:  envCSV("CORS_ALLOWED_ORIGINS", []string{"*"}),
			MaxBodyBytes: int64(envInt("MAX_BODY_BYTES", 1<<20)),
		},
		Store: StoreConfig{
			Driver:               strings.ToLower(envString("STORE_DRIVER", DriverPostgres)),
			SQLitePath:           envString("SQLITE_PATH", "fingerprints.db"),
			MigrationsDir:        envString("MIGRATIONS_DIR", "migrations"),
			RetryMaxAttempts:     envInt("STORAGE_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialInterval: envDuration("STORAGE_RETRY_INITIAL_INTERVAL", 50*time.Millisecond),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			ListCacheTTL: envDuration("LIST_CACHE_TTL", 10*time.Second),
		},
		Fingerprint: FingerprintConfig{
			StripFields: envCSV("FINGERPRINT_STRIP_FIELDS", []string{"city", "country"}),
		},
		Metrics: MetricsConfig{
			Enabled: envBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("FINGERPRINTD_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite; got %q", c.Store.Driver)
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.Server.ClientCAFile != "" && !c.Server.TLSEnabled() {
		return fmt.Errorf("TLS_CLIENT_CA_FILE requires TLS_CERT_FILE and TLS_KEY_FILE")
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.Server.MaxBodyBytes)
	}

	if c.Store.RetryMaxAttempts < 1 {
		return fmt.Errorf("STORAGE_RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Store.RetryMaxAttempts)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
	}
	return level, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envCSV splits a comma-separated list. A variable set to "-" yields an
// empty list, which is distinct from unset.
func envCSV(key string, defaultVal []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal
	}
	if v == "-" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}
