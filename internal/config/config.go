// Package config loads server configuration from the environment.
//
// LOOKUP ORDER (highest wins):
//  1. Real environment variables
//  2. A .env file in the working directory (loaded by godotenv; never
//     overrides variables that are already set)
//  3. An optional config.yml in the working directory
//  4. The defaults below
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sakif/goal-tracker/internal/auth"
)

// MinSecretLength is the shortest JWT_SECRET accepted.
const MinSecretLength = 16

// Config holds every setting the server reads at startup.
type Config struct {
	Port               int           `mapstructure:"PORT"`
	DBPath             string        `mapstructure:"DB_PATH"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	TokenTTL           time.Duration `mapstructure:"TOKEN_TTL"`
	TokenPurgeInterval time.Duration `mapstructure:"TOKEN_PURGE_INTERVAL"`
	BcryptCost         int           `mapstructure:"BCRYPT_COST"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
	RedisAddr          string        `mapstructure:"REDIS_ADDR"`
	LoginRateLimit     int           `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateWindow    time.Duration `mapstructure:"LOGIN_RATE_WINDOW"`
	GitHubClientID     string        `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `mapstructure:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string        `mapstructure:"GITHUB_CALLBACK_URL"`
	CookieSecure       bool          `mapstructure:"COOKIE_SECURE"`
	// TrustProxy honours X-Forwarded-For / X-Real-IP. Only turn it on behind
	// a reverse proxy that overwrites those headers.
	TrustProxy         bool          `mapstructure:"TRUST_PROXY"`
}

var defaults = map[string]any{
	"PORT":                 8080,
	"DB_PATH":              "data/goals.db",
	"JWT_SECRET":           "",
	"TOKEN_TTL":            "24h",
	"TOKEN_PURGE_INTERVAL": "1h",
	"BCRYPT_COST":          auth.DefaultCost,
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "text",
	"REDIS_ADDR":           "",
	"LOGIN_RATE_LIMIT":     10,
	"LOGIN_RATE_WINDOW":    "1m",
	"GITHUB_CLIENT_ID":     "",
	"GITHUB_CLIENT_SECRET": "",
	"GITHUB_CALLBACK_URL":  "http://localhost:8080/auth/github/callback",
	"COOKIE_SECURE":        false,
	"TRUST_PROXY":          false,
}

// Load reads .env, config.yml and the environment, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// key gets a default, even the empty ones.
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config.yml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.TokenPurgeInterval <= 0 {
		errs = append(errs, errors.New("TOKEN_PURGE_INTERVAL must be positive"))
	}
	if c.LoginRateLimit <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_LIMIT must be positive"))
	}
	if c.LoginRateWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_WINDOW must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}

	return errors.Join(errs...)
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// RateLimitEnabled reports whether a Redis address was given.
func (c *Config) RateLimitEnabled() bool {
	return c.RedisAddr != ""
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}
