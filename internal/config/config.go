// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Turn orchestration.
	MaxRoutingHops         int
	TurnTimeout            time.Duration
	PersistTimeout         time.Duration
	StrictUnderwritingGate bool

	Anthropic AnthropicConfig
	PromptAPI PromptAPIConfig
	Tracing   TracingConfig
}

// AnthropicConfig configures the completion vendor client.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// PromptAPIConfig configures the hosted prompt-management service.
type PromptAPIConfig struct {
	URL       string
	PublicKey string
	SecretKey string
	CacheTTL  time.Duration
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	TLSInsecure bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/solcredito.db"),

		MaxRoutingHops:         getEnvInt("MAX_ROUTING_HOPS", 6),
		TurnTimeout:            getEnvMillis("TURN_COMPLETION_TIMEOUT_MS", 30*time.Second),
		PersistTimeout:         getEnvMillis("PERSIST_TIMEOUT_MS", 5*time.Second),
		StrictUnderwritingGate: getEnvBool("STRICT_UNDERWRITING_GATE", false),

		Anthropic: AnthropicConfig{
			APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
			Model:     getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens: getEnvInt("ANTHROPIC_MAX_TOKENS", 1024),
		},
		PromptAPI: PromptAPIConfig{
			URL:       getEnv("PROMPT_API_URL", ""),
			PublicKey: getEnv("PROMPT_API_PUBLIC_KEY", ""),
			SecretKey: getEnv("PROMPT_API_SECRET_KEY", ""),
			CacheTTL:  getEnvMillis("PROMPT_CACHE_TTL_MS", time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_OTLP_ENDPOINT", ""),
			TLSInsecure: getEnvBool("TRACING_TLS_INSECURE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRoutingHops <= 0 {
		return fmt.Errorf("MAX_ROUTING_HOPS must be > 0")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_COMPLETION_TIMEOUT_MS must be > 0")
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT_MS must be > 0")
	}
	if c.Anthropic.MaxTokens <= 0 {
		return fmt.Errorf("ANTHROPIC_MAX_TOKENS must be > 0")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("TRACING_OTLP_ENDPOINT required when TRACING_ENABLED is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
