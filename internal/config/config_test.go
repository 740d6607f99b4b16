package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.BaseURL = "https://chat.example.com"
	cfg.Sync.OutboxInterval = Duration{2 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
	if loaded.Sync.OutboxInterval.Duration != 2*time.Second {
		t.Errorf("OutboxInterval = %v, want 2s", loaded.Sync.OutboxInterval)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "default_session = \"main\"\n[server]\nbase_url = \"http://h:1\"\nrequest_timeout = \"3s\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.RequestTimeout.Duration != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.UnreachableCooldown.Duration != 15*time.Second {
		t.Errorf("UnreachableCooldown = %v, want default 15s", cfg.Server.UnreachableCooldown)
	}
	if cfg.Sync.OutboxMaxAttempts != 5 {
		t.Errorf("OutboxMaxAttempts = %d, want 5", cfg.Sync.OutboxMaxAttempts)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main", cfg.DefaultSession)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing base url", func(c *Config) { c.Server.BaseURL = "" }, true},
		{"websocket base url", func(c *Config) { c.Server.BaseURL = "ws://h" }, true},
		{"missing token", func(c *Config) { c.Account.Token = "" }, true},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, true},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Account.Token = "t"
			tt.edit(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSelfID(t *testing.T) {
	cfg := Default()
	cfg.Account.Token = signed(t, jwt.MapClaims{"user_id": 42})
	id, err := cfg.SelfID()
	if err != nil {
		t.Fatalf("SelfID() error = %v", err)
	}
	if id != 42 {
		t.Errorf("SelfID() = %d, want 42", id)
	}

	cfg.Account.UserID = 7
	if id, _ := cfg.SelfID(); id != 7 {
		t.Errorf("SelfID() = %d, want explicit 7", id)
	}
}

func TestSelfIDMissingClaim(t *testing.T) {
	cfg := Default()
	cfg.Account.Token = signed(t, jwt.MapClaims{"sub": "x"})
	if _, err := cfg.SelfID(); err == nil {
		t.Error("SelfID() expected error without user_id claim")
	}

	cfg.Account.Token = "not-a-jwt"
	if _, err := cfg.SelfID(); err == nil {
		t.Error("SelfID() expected error for malformed token")
	}
}
