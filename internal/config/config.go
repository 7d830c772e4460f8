package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the eventlinter service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Linter    LinterConfig
	Rules     RulesConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// LinterConfig points at the edge functions that evaluate rules.
// RequestTimeout bounds one-shot runs and rule tests; streaming runs
// have no client-side timeout.
type LinterConfig struct {
	FunctionsURL   string
	AccessToken    string
	RequestTimeout time.Duration
}

type RulesConfig struct {
	CatalogueURL string
	CatalogueTTL time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

type LogConfig struct {
	Format string
	Level  slog.Level
}

// Load reads configuration from environment variables (and a .env file when
// present) and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLinter is Load for commands that only talk to the linter backend.
// Database and Redis settings are read but not required.
func LoadLinter() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateLinter(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase is Load for commands that only need the database.
func LoadDatabase() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	level, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	format, err := parseFormat(os.Getenv("LOG_FORMAT"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port: envInt("LINTER_PORT", 8080),
			Env:  envString("LINTER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Linter: LinterConfig{
			FunctionsURL:   strings.TrimRight(os.Getenv("LINTER_FUNCTIONS_URL"), "/"),
			AccessToken:    os.Getenv("LINTER_ACCESS_TOKEN"),
			RequestTimeout: envDuration("LINTER_REQUEST_TIMEOUT", 60*time.Second),
		},
		Rules: RulesConfig{
			CatalogueURL: os.Getenv("RULES_CATALOGUE_URL"),
			CatalogueTTL: envDuration("RULES_CATALOGUE_TTL", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Log: LogConfig{
			Format: format,
			Level:  level,
		},
	}, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := c.validateLinter(); err != nil {
		return err
	}

	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.PerMinute)
	}

	return nil
}

func (c *Config) validateLinter() error {
	if c.Linter.FunctionsURL == "" {
		return fmt.Errorf("LINTER_FUNCTIONS_URL is required")
	}
	if !isHTTPURL(c.Linter.FunctionsURL) {
		return fmt.Errorf("LINTER_FUNCTIONS_URL must start with http:// or https://, got %q", c.Linter.FunctionsURL)
	}
	if c.Linter.RequestTimeout <= 0 {
		return fmt.Errorf("LINTER_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

func parseFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	switch format {
	case "":
		return "json", nil
	case "json", "text":
		return format, nil
	default:
		return "", fmt.Errorf("LOG_FORMAT must be one of json, text; got %q", raw)
	}
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", raw)
	}
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
