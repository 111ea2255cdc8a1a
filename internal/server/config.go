// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Framing modes for TCP transports.
const (
	// FramingLine treats every newline-terminated line as one frame.
	FramingLine = "line"
	// FramingRaw treats whatever a single read returns as one frame.
	FramingRaw = "raw"
)

const (
	defaultListenAddr      = ":8989"
	defaultMaxFrameSize    = 1024
	defaultIdleTimeout     = 5 * time.Minute
	defaultWriteTimeout    = 10 * time.Second
	defaultSendQueueSize   = 256
	defaultMaxSessions     = 1024
	defaultShutdownTimeout = 5 * time.Second
	defaultLobbyName       = "AnterRoom"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	ListenAddr      string
	HTTPAddr        string
	AllowedOrigins  []string
	Framing         string
	MaxFrameSize    int
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	SendQueueSize   int
	MaxSessions     int
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
	LobbyName       string
	LogLevel        string
	LogFormat       string
}

func defaultConfig() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		Framing:       FramingLine,
		MaxFrameSize:  defaultMaxFrameSize,
		IdleTimeout:   defaultIdleTimeout,
		WriteTimeout:  defaultWriteTimeout,
		SendQueueSize: defaultSendQueueSize,
		MaxSessions:   defaultMaxSessions,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		LobbyName:       defaultLobbyName,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// sanitizeConfig fills zero or invalid values with defaults. HTTPAddr may stay
// empty, which disables the WebSocket gateway; MaxSessions of zero means no limit.
func sanitizeConfig(cfg Config) Config {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Framing)) {
	case FramingRaw:
		cfg.Framing = FramingRaw
	default:
		cfg.Framing = FramingLine
	}

	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}

	if cfg.MaxSessions < 0 {
		cfg.MaxSessions = 0
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.LobbyName == "" {
		cfg.LobbyName = defaultLobbyName
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("CHAT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if addr := os.Getenv("CHAT_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if framing := os.Getenv("CHAT_FRAMING"); framing != "" {
		cfg.Framing = framing
	}

	if size := os.Getenv("CHAT_MAX_FRAME_SIZE"); size != "" {
		cfg.MaxFrameSize = parseIntValue(size, cfg.MaxFrameSize)
	}

	if idle := os.Getenv("CHAT_IDLE_TIMEOUT"); idle != "" {
		cfg.IdleTimeout = parseSeconds(idle, cfg.IdleTimeout)
	}

	if write := os.Getenv("CHAT_WRITE_TIMEOUT"); write != "" {
		cfg.WriteTimeout = parseSeconds(write, cfg.WriteTimeout)
	}

	if queue := os.Getenv("CHAT_SEND_QUEUE"); queue != "" {
		cfg.SendQueueSize = parseIntValue(queue, cfg.SendQueueSize)
	}

	if limit := os.Getenv("CHAT_MAX_SESSIONS"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil && parsed >= 0 {
			cfg.MaxSessions = parsed
		}
	}

	if burst := os.Getenv("CHAT_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("CHAT_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if timeout := os.Getenv("CHAT_SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if lobby := os.Getenv("CHAT_LOBBY_NAME"); lobby != "" {
		cfg.LobbyName = lobby
	}

	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if format := os.Getenv("CHAT_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
