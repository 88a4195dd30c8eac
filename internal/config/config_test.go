package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATA_DIR", "EXTERNAL_API_BASE", "AI_API_TIMEOUT", "AI_SELECT_TIMEOUT", "PORT", "HOST", "DEBUG", "REDIS_ADDR", "AUDIT_DB_DSN", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "chat_data" {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.Upstream.Timeout != 10*time.Second || cfg.Upstream.SelectTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts %v/%v", cfg.Upstream.Timeout, cfg.Upstream.SelectTimeout)
	}
	if cfg.HTTP.ListenAddr() != "0.0.0.0:5001" {
		t.Fatalf("unexpected listen addr %q", cfg.HTTP.ListenAddr())
	}
	if cfg.Redis.Enabled() || cfg.Audit.Enabled() {
		t.Fatalf("optional backends should be disabled by default")
	}
	if cfg.Chat.ContextWindow != 8 || !cfg.Chat.FallbackEnabled {
		t.Fatalf("unexpected chat config %+v", cfg.Chat)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AI_API_TIMEOUT", "3")
	t.Setenv("AI_SELECT_TIMEOUT", "1500ms")
	t.Setenv("EXTERNAL_API_BASE", "https://gen.example.com/api/")
	t.Setenv("DEBUG", "true")
	t.Setenv("PORT", "8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upstream.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %v", cfg.Upstream.Timeout)
	}
	if cfg.Upstream.SelectTimeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s select timeout, got %v", cfg.Upstream.SelectTimeout)
	}
	if cfg.Upstream.BaseURL != "https://gen.example.com/api" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.Upstream.BaseURL)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("debug flag should force debug logging, got %q", cfg.Log.Level)
	}
	if cfg.HTTP.Port != 8081 {
		t.Fatalf("unexpected port %d", cfg.HTTP.Port)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("EXTERNAL_API_BASE", "not a url")
	if _, err := Load(); !errors.Is(err, ErrInvalidUpstreamURL) {
		t.Fatalf("expected ErrInvalidUpstreamURL, got %v", err)
	}

	t.Setenv("EXTERNAL_API_BASE", "http://localhost:9000")
	t.Setenv("PORT", "70000")
	if _, err := Load(); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}

	t.Setenv("PORT", "5001")
	t.Setenv("AI_API_TIMEOUT", "0")
	if _, err := Load(); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("expected ErrInvalidTimeout, got %v", err)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PERSONACHAT_TEST_KEY=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PERSONACHAT_TEST_KEY", "")
	_ = os.Unsetenv("PERSONACHAT_TEST_KEY")

	if err := LoadEnvFiles(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("PERSONACHAT_TEST_KEY"); got != "from-file" {
		t.Fatalf("expected value from env file, got %q", got)
	}

	if err := LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error for missing explicit env file")
	}
}
