// Package config loads the engine's runtime tunables from environment
// variables, applying defaults and collecting every invalid override into a
// single descriptive error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the engine listens on.
	DefaultAddr = ":43180"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 256

	// DefaultCountdownTicks is the number of one-second countdown ticks a
	// client sees before its session starts.
	DefaultCountdownTicks = 3

	// DefaultRecordMaxAgeDays controls how long session recordings are kept.
	DefaultRecordMaxAgeDays = 14
	// DefaultRecordMaxCount bounds retained session recordings per directory.
	DefaultRecordMaxCount = 1000

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "engine.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the engine service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string

	CountdownTicks int
	AuthSecret     string

	DatabaseURL string
	RedisAddr   string

	RecordDir        string
	RecordMaxAgeDays int
	RecordMaxCount   int

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the engine configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("ENGINE_ADDR", DefaultAddr),
		AllowedOrigins:   parseList(os.Getenv("ENGINE_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		MaxClients:       DefaultMaxClients,
		TLSCertPath:      strings.TrimSpace(os.Getenv("ENGINE_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(os.Getenv("ENGINE_TLS_KEY")),
		CountdownTicks:   DefaultCountdownTicks,
		AuthSecret:       strings.TrimSpace(os.Getenv("ENGINE_AUTH_SECRET")),
		DatabaseURL:      strings.TrimSpace(os.Getenv("ENGINE_DATABASE_URL")),
		RedisAddr:        strings.TrimSpace(os.Getenv("ENGINE_REDIS_ADDR")),
		RecordDir:        strings.TrimSpace(os.Getenv("ENGINE_RECORD_DIR")),
		RecordMaxAgeDays: DefaultRecordMaxAgeDays,
		RecordMaxCount:   DefaultRecordMaxCount,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("ENGINE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("ENGINE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("ENGINE_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_COUNTDOWN_TICKS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_COUNTDOWN_TICKS must be a non-negative integer, got %q", raw))
		} else {
			cfg.CountdownTicks = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_RECORD_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_RECORD_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.RecordMaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_RECORD_MAX_COUNT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_RECORD_MAX_COUNT must be a non-negative integer, got %q", raw))
		} else {
			cfg.RecordMaxCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "ENGINE_TLS_CERT and ENGINE_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
