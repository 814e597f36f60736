// Package config provides environment configuration for the chat gateway.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSAllowedOrigins []string

	// Identity
	SessionJWTSecret  string
	SessionCookieName string
	AdminJWTSecret    string
	AdminHeaderName   string

	// Admission control
	UserRateLimit       int
	UserRateWindow      time.Duration
	SessionRateLimit    int
	SessionRateWindow   time.Duration
	IPRateLimitRequests int
	IPRateLimitWindow   time.Duration

	// History
	MaxHistory        int
	MaxRequestHistory int
	HistoryStore      string
	SupabaseURL       string
	SupabaseKey       string
	RedisURL          string
	RedisHistoryTTL   time.Duration

	// AI backend
	AIBackend        string
	AIBackendURL     string
	AIBackendToken   string
	AIBackendTimeout time.Duration
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicModel   string
	SystemPrompt     string

	// Streaming
	StreamTokenDelay time.Duration

	// Telemetry
	TelemetrySink   string
	TelemetryBuffer int
	NATSURL         string
	NATSCAFile      string
	NATSCertFile    string
	NATSKeyFile     string
	NATSToken       string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		SessionJWTSecret:  getEnv("SESSION_JWT_SECRET", ""),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "sb-access-token"),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AdminHeaderName:   getEnv("ADMIN_HEADER_NAME", "X-Admin-Token"),

		UserRateLimit:       getIntEnv("RATE_LIMIT_USER_LIMIT", 20),
		UserRateWindow:      getDurationEnv("RATE_LIMIT_USER_WINDOW", time.Minute),
		SessionRateLimit:    getIntEnv("RATE_LIMIT_SESSION_LIMIT", 10),
		SessionRateWindow:   getDurationEnv("RATE_LIMIT_SESSION_WINDOW", time.Minute),
		IPRateLimitRequests: getIntEnv("IP_RATE_LIMIT_REQUESTS", 120),
		IPRateLimitWindow:   getDurationEnv("IP_RATE_LIMIT_WINDOW", time.Minute),

		MaxHistory:        getIntEnv("MAX_HISTORY", 50),
		MaxRequestHistory: getIntEnv("MAX_REQUEST_HISTORY", 12),
		HistoryStore:      getEnv("HISTORY_STORE", "memory"),
		SupabaseURL:       getEnv("SUPABASE_URL", ""),
		SupabaseKey:       getEnv("SUPABASE_SERVICE_KEY", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RedisHistoryTTL:   getDurationEnv("REDIS_HISTORY_TTL", 0),

		AIBackend:        getEnv("AI_BACKEND", "http"),
		AIBackendURL:     getEnv("AI_BACKEND_URL", ""),
		AIBackendToken:   getEnv("AI_BACKEND_TOKEN", ""),
		AIBackendTimeout: getDurationEnv("AI_BACKEND_TIMEOUT", 45*time.Second),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
		SystemPrompt:     getEnv("SYSTEM_PROMPT", ""),

		StreamTokenDelay: getDurationEnv("STREAM_TOKEN_DELAY", 0),

		TelemetrySink:   getEnv("TELEMETRY_SINK", "log"),
		TelemetryBuffer: getIntEnv("TELEMETRY_BUFFER", 256),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:      getEnv("NATS_CA_FILE", ""),
		NATSCertFile:    getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:     getEnv("NATS_KEY_FILE", ""),
		NATSToken:       getEnv("NATS_TOKEN", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
	cfg.clamp()
	return cfg
}

// clamp keeps the history caps consistent: 0 < MaxRequestHistory <= MaxHistory.
func (c *Config) clamp() {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 50
	}
	if c.MaxRequestHistory <= 0 || c.MaxRequestHistory > c.MaxHistory {
		c.MaxRequestHistory = c.MaxHistory
	}
	if c.TelemetryBuffer <= 0 {
		c.TelemetryBuffer = 256
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
