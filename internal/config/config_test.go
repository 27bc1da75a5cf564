package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.MaxConcurrency != 10 {
		t.Errorf("MaxConcurrency = %d, want 10", cfg.MaxConcurrency)
	}
	if cfg.Export.Dir != "output" {
		t.Errorf("Export.Dir = %q, want output", cfg.Export.Dir)
	}
}

func TestLoad_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
env: prod
max_concurrency: 5
api_keys:
  prod: api_secretkey
redis:
  addr: localhost:6379
  db: 2
jobs:
  - name: weekly-stale-sweep
    schedule: "0 6 * * MON"
    command: mark-stale
    args: ["6"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("Env = %q, want prod", cfg.Env)
	}
	if cfg.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5", cfg.MaxConcurrency)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v, want localhost:6379 db 2", cfg.Redis)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Command != "mark-stale" {
		t.Errorf("Jobs = %+v, want one mark-stale job", cfg.Jobs)
	}
}

func TestLoad_RejectsUnknownEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("env: staging\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() should reject env other than dev/prod")
	}
}

func TestAPIKey_Precedence(t *testing.T) {
	cfg := Default()
	cfg.Env = "prod"
	cfg.APIKeys["prod"] = "from-file"

	// Flag value wins over everything.
	key, err := cfg.APIKey("from-flag")
	if err != nil {
		t.Fatalf("APIKey() error = %v", err)
	}
	if key != "from-flag" {
		t.Errorf("key = %q, want from-flag", key)
	}

	// Environment variable beats the config file.
	t.Setenv("CLOSE_API_KEY_PROD", "from-env")
	key, err = cfg.APIKey("")
	if err != nil {
		t.Fatalf("APIKey() error = %v", err)
	}
	if key != "from-env" {
		t.Errorf("key = %q, want from-env", key)
	}

	// Config file is the fallback.
	t.Setenv("CLOSE_API_KEY_PROD", "")
	key, err = cfg.APIKey("")
	if err != nil {
		t.Fatalf("APIKey() error = %v", err)
	}
	if key != "from-file" {
		t.Errorf("key = %q, want from-file", key)
	}
}

func TestAPIKey_MissingEverywhere(t *testing.T) {
	cfg := Default()
	t.Setenv("CLOSE_API_KEY_DEV", "")

	if _, err := cfg.APIKey(""); err == nil {
		t.Error("APIKey() with no key anywhere should fail")
	}
}

func TestRedisClient_NilWithoutAddr(t *testing.T) {
	cfg := Default()
	if cfg.RedisClient() != nil {
		t.Error("RedisClient() = non-nil, want nil when no addr configured")
	}

	cfg.Redis.Addr = "localhost:6379"
	if cfg.RedisClient() == nil {
		t.Error("RedisClient() = nil, want client when addr configured")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"~/exports", filepath.Join(home, "exports")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
