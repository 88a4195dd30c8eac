package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingDataDir     = errors.New("DATA_DIR is required")
	ErrInvalidUpstreamURL = errors.New("EXTERNAL_API_BASE must be an absolute http(s) url")
	ErrInvalidTimeout     = errors.New("AI_API_TIMEOUT must be > 0")
	ErrInvalidPort        = errors.New("PORT must be between 1 and 65535")
)

type Config struct {
	DataDir string
	Debug   bool

	Upstream UpstreamConfig
	Chat     ChatConfig
	HTTP     HTTPConfig
	Redis    RedisConfig
	Rate     RateConfig
	Audit    AuditConfig
	Log      LogConfig
}

type UpstreamConfig struct {
	BaseURL       string
	Timeout       time.Duration
	SelectTimeout time.Duration
	MaxNewTokens  int
	Temperature   float64
}

type ChatConfig struct {
	ContextWindow   int
	FallbackEnabled bool
}

type HTTPConfig struct {
	Host        string
	Port        int
	HealthPath  string
	MetricsPath string
}

func (h HTTPConfig) ListenAddr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type RateConfig struct {
	PerHour int64
}

type AuditConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

func (a AuditConfig) Enabled() bool {
	return a.DSN != ""
}

type LogConfig struct {
	Level string
}

// LoadEnvFiles merges dotenv files into the process environment without
// overriding variables that are already set. A missing default .env is not an
// error; explicitly named files must exist.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func Load() (*Config, error) {
	timeout := mustSeconds("AI_API_TIMEOUT", 10*time.Second)
	cfg := &Config{
		DataDir: mustEnv("DATA_DIR", "chat_data"),
		Debug:   mustBool("DEBUG", false),
		Upstream: UpstreamConfig{
			BaseURL:       strings.TrimSuffix(mustEnv("EXTERNAL_API_BASE", "http://127.0.0.1:60027"), "/"),
			Timeout:       timeout,
			SelectTimeout: mustSeconds("AI_SELECT_TIMEOUT", timeout),
			MaxNewTokens:  mustInt("AI_MAX_NEW_TOKENS", 1024),
			Temperature:   mustFloat("AI_TEMPERATURE", 1.0),
		},
		Chat: ChatConfig{
			ContextWindow:   mustInt("CONTEXT_WINDOW", 8),
			FallbackEnabled: mustBool("FALLBACK_ENABLED", true),
		},
		HTTP: HTTPConfig{
			Host:        mustEnv("HOST", "0.0.0.0"),
			Port:        mustInt("PORT", 5001),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 120)),
		},
		Audit: AuditConfig{
			Driver:      strings.ToLower(mustEnv("AUDIT_DB_DRIVER", "sqlite")),
			DSN:         mustEnv("AUDIT_DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return ErrMissingDataDir
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidUpstreamURL
	}
	if c.Upstream.Timeout <= 0 || c.Upstream.SelectTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Chat.ContextWindow < 1 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0, got %d", c.Chat.ContextWindow)
	}
	if c.Audit.Enabled() && c.Audit.Driver != "sqlite" && c.Audit.Driver != "sqlite3" && c.Audit.Driver != "postgres" && c.Audit.Driver != "pgx" {
		return fmt.Errorf("unsupported AUDIT_DB_DRIVER %q", c.Audit.Driver)
	}
	return nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// mustSeconds reads a plain number as seconds, anything else as a Go
// duration.
func mustSeconds(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
