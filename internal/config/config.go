package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Server         ServerConfig  `toml:"server"`
	Account        AccountConfig `toml:"account"`
	Sync           SyncConfig    `toml:"sync"`
	Logging        LoggingConfig `toml:"logging"`
	Tracing        TracingConfig `toml:"tracing"`
}

// ServerConfig locates the chat service.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	// PushURL defaults to the base URL with a ws(s) scheme and /ws path.
	PushURL             string   `toml:"push_url"`
	RequestTimeout      Duration `toml:"request_timeout"`
	UnreachableCooldown Duration `toml:"unreachable_cooldown"`
}

// AccountConfig holds the credentials of the signed-in user.
type AccountConfig struct {
	Token  string `toml:"token"`
	UserID int64  `toml:"user_id"`
}

type SyncConfig struct {
	WarmConcurrency   int      `toml:"warm_concurrency"`
	PushBuffer        int      `toml:"push_buffer"`
	OutboxInterval    Duration `toml:"outbox_interval"`
	OutboxMaxAttempts int      `toml:"outbox_max_attempts"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type TracingConfig struct {
	Enabled bool `toml:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter   string  `toml:"exporter"`
	Endpoint   string  `toml:"endpoint"`
	SampleRate float64 `toml:"sample_rate"`
}

// Duration is a time.Duration written as a string ("15s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a config with every tunable set.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: ServerConfig{
			BaseURL:             "http://localhost:8080",
			RequestTimeout:      Duration{15 * time.Second},
			UnreachableCooldown: Duration{15 * time.Second},
		},
		Sync: SyncConfig{
			WarmConcurrency:   4,
			PushBuffer:        256,
			OutboxInterval:    Duration{500 * time.Millisecond},
			OutboxMaxAttempts: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Tracing: TracingConfig{
			Exporter:   "stdout",
			Endpoint:   "localhost:4318",
			SampleRate: 0.1,
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil
// config and error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("server.base_url must be an http(s) URL, got %q", c.Server.BaseURL)
	}
	if c.Account.Token == "" {
		return fmt.Errorf("account.token is required")
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be stdout or otlp, got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	return nil
}

// SelfID returns the signed-in user's id: account.user_id when set,
// otherwise the token's user_id claim. The token signature is not checked;
// the server does that.
func (c *Config) SelfID() (int64, error) {
	if c.Account.UserID != 0 {
		return c.Account.UserID, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Account.Token, claims); err != nil {
		return 0, fmt.Errorf("parse account token: %w", err)
	}
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("account token has no user_id claim")
	}
	return int64(id), nil
}
