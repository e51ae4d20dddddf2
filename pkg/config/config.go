package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the platform core.
type Config struct {
	Port           string
	GRPCHealthPort string

	// Database
	DBPath string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Realtime channel
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	SendBuffer       int

	// Wallet outbox dispatcher
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// Ledger
	DefaultCurrency string

	// Rate limiting (per IP)
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// FileOverrides is the optional YAML overlay; zero values leave env defaults alone.
type FileOverrides struct {
	HandshakeTimeoutMs int     `yaml:"handshake_timeout_ms"`
	MaxMessageSize     int64   `yaml:"max_message_size"`
	SendBuffer         int     `yaml:"send_buffer"`
	OutboxPollMs       int     `yaml:"outbox_poll_ms"`
	OutboxBatchSize    int     `yaml:"outbox_batch_size"`
	DefaultCurrency    string  `yaml:"default_currency"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// Load reads environment variables (optionally via .env) into Config,
// then applies the YAML overlay file when CONFIG_FILE points at one.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", ""),
		DBPath:             getEnv("DB_PATH", "./data/tradedesk.db"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 72*time.Hour),
		HandshakeTimeout:   getEnvDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		WriteWait:          getEnvDuration("WS_WRITE_WAIT", 10*time.Second),
		PongWait:           getEnvDuration("WS_PONG_WAIT", 60*time.Second),
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 4096)),
		SendBuffer:         getEnvInt("WS_SEND_BUFFER", 64),
		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 200*time.Millisecond),
		OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "USD"),
		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 50),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var over FileOverrides
	if err := yaml.Unmarshal(raw, &over); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if over.HandshakeTimeoutMs > 0 {
		c.HandshakeTimeout = time.Duration(over.HandshakeTimeoutMs) * time.Millisecond
	}
	if over.MaxMessageSize > 0 {
		c.MaxMessageSize = over.MaxMessageSize
	}
	if over.SendBuffer > 0 {
		c.SendBuffer = over.SendBuffer
	}
	if over.OutboxPollMs > 0 {
		c.OutboxPollInterval = time.Duration(over.OutboxPollMs) * time.Millisecond
	}
	if over.OutboxBatchSize > 0 {
		c.OutboxBatchSize = over.OutboxBatchSize
	}
	if over.DefaultCurrency != "" {
		c.DefaultCurrency = over.DefaultCurrency
	}
	if over.RateLimitPerSecond > 0 {
		c.RateLimitPerSecond = over.RateLimitPerSecond
	}
	if over.RateLimitBurst > 0 {
		c.RateLimitBurst = over.RateLimitBurst
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
