// Package config defines runtime defaults, file and environment loading,
// and validation for the roomchat server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RateLimit defines a token bucket: Burst events, refilled over RefillInterval.
type RateLimit struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxFrameSize caps a single inbound WebSocket frame in bytes.
	MaxFrameSize        int64         `yaml:"max_frame_size"`
	MaxMessageLength    int           `yaml:"max_message_length"`
	HistoryMaxLimit     int           `yaml:"history_max_limit"`
	HistoryDefaultLimit int           `yaml:"history_default_limit"`
	TypingTimeout       time.Duration `yaml:"typing_timeout"`
	RateLimit           RateLimit     `yaml:"rate_limit"`
	JoinRateLimit       RateLimit     `yaml:"join_rate_limit"`

	DatabaseURL   string        `yaml:"database_url"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	CookieSecure  bool          `yaml:"cookie_secure"`

	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxFrameSize:        16 * 1024,
		MaxMessageLength:    2000,
		HistoryMaxLimit:     100,
		HistoryDefaultLimit: 50,
		TypingTimeout:       5 * time.Second,
		RateLimit: RateLimit{
			Burst:          5,
			RefillInterval: time.Second,
		},
		JoinRateLimit: RateLimit{
			Burst:          10,
			RefillInterval: time.Minute,
		},
		SessionTTL:      7 * 24 * time.Hour,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Sanitize replaces unusable values with defaults.
func (c Config) Sanitize() Config {
	def := Default()

	if c.Port == "" {
		c.Port = def.Port
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = def.MaxMessageLength
	}
	if c.HistoryMaxLimit <= 0 {
		c.HistoryMaxLimit = def.HistoryMaxLimit
	}
	if c.HistoryDefaultLimit <= 0 || c.HistoryDefaultLimit > c.HistoryMaxLimit {
		c.HistoryDefaultLimit = min(def.HistoryDefaultLimit, c.HistoryMaxLimit)
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = def.TypingTimeout
	}
	c.RateLimit = sanitizeRate(c.RateLimit, def.RateLimit)
	c.JoinRateLimit = sanitizeRate(c.JoinRateLimit, def.JoinRateLimit)
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	return c
}

func sanitizeRate(r, def RateLimit) RateLimit {
	if r.Burst <= 0 {
		r.Burst = def.Burst
	}
	if r.RefillInterval <= 0 {
		r.RefillInterval = def.RefillInterval
	}
	return r
}

// Load builds the configuration: defaults, then the YAML file at path (or
// CHAT_CONFIG_FILE when path is empty), then the environment. A .env file in
// the working directory is loaded into the environment first if present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CHAT_CONFIG_FILE")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	ApplyEnv(&cfg, os.Getenv)
	return cfg.Sanitize(), nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with the variables returned by getenv.
// Unparseable values keep the current setting.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if port := getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if v := getenv("MAX_FRAME_SIZE"); v != "" {
		cfg.MaxFrameSize = parseInt64(v, cfg.MaxFrameSize)
	}
	if v := getenv("MAX_MESSAGE_LENGTH"); v != "" {
		cfg.MaxMessageLength = parseIntValue(v, cfg.MaxMessageLength)
	}
	if v := getenv("HISTORY_MAX_LIMIT"); v != "" {
		cfg.HistoryMaxLimit = parseIntValue(v, cfg.HistoryMaxLimit)
	}
	if v := getenv("HISTORY_DEFAULT_LIMIT"); v != "" {
		cfg.HistoryDefaultLimit = parseIntValue(v, cfg.HistoryDefaultLimit)
	}
	if v := getenv("TYPING_TIMEOUT"); v != "" {
		cfg.TypingTimeout = parseDuration(v, cfg.TypingTimeout)
	}
	if v := getenv("RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v := getenv("RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}
	if v := getenv("JOIN_RATE_LIMIT_BURST"); v != "" {
		cfg.JoinRateLimit.Burst = parseIntValue(v, cfg.JoinRateLimit.Burst)
	}
	if v := getenv("JOIN_RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.JoinRateLimit.RefillInterval = parseDuration(v, cfg.JoinRateLimit.RefillInterval)
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = parseDuration(v, cfg.SessionTTL)
	}
	if v := getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		cfg.ShutdownTimeout = parseDuration(v, cfg.ShutdownTimeout)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("1500ms") and plain seconds ("2").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
