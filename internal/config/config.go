// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. Invalid configuration is fatal
// at startup; request handling never sees a half-configured engine.
type Config struct {
	Port                 string
	DBPath               string
	OutboundWebhookURL   string
	EscalationWebhookURL string

	GeminiAPIKey string
	GeminiModel  string
	LLMTimeout   time.Duration

	SessionIdleTimeout   time.Duration
	SessionTTL           time.Duration
	SessionContextWindow int

	RateLimitCapacity     float64
	RateLimitRefillPerMin float64

	FollowUpIntervals         []int
	FollowUpResetOnEscalation bool

	Risk RiskConfig

	SweepInterval       time.Duration
	DispatchInterval    time.Duration
	EscalationQueueSize int
}

// RiskConfig holds the risk-tier thresholds and lexicon source.
type RiskConfig struct {
	ThresholdMedium   float64
	ThresholdHigh     float64
	ThresholdCritical float64
	// LexiconPath overrides the embedded default lexicon when set.
	LexiconPath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	intervals, err := parseIntervals(getEnv("FOLLOWUP_INTERVALS", "1,3,7,14,30"))
	if err != nil {
		return nil, fmt.Errorf("invalid FOLLOWUP_INTERVALS: %w", err)
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/jaidee.db"),
		OutboundWebhookURL:   getEnv("OUTBOUND_WEBHOOK_URL", ""),
		EscalationWebhookURL: getEnv("ESCALATION_WEBHOOK_URL", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		LLMTimeout:   getEnvDuration("LLM_TIMEOUT", 30*time.Second),

		SessionIdleTimeout:   getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionTTL:           getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		SessionContextWindow: getEnvInt("SESSION_CONTEXT_WINDOW", 100),

		RateLimitCapacity:     getEnvFloat("RATE_LIMIT_CAPACITY", 5),
		RateLimitRefillPerMin: getEnvFloat("RATE_LIMIT_REFILL_PER_MIN", 1),

		FollowUpIntervals:         intervals,
		FollowUpResetOnEscalation: getEnvBool("FOLLOWUP_RESET_ON_ESCALATION", true),

		Risk: RiskConfig{
			ThresholdMedium:   getEnvFloat("RISK_THRESHOLD_MEDIUM", 0.25),
			ThresholdHigh:     getEnvFloat("RISK_THRESHOLD_HIGH", 0.5),
			ThresholdCritical: getEnvFloat("RISK_THRESHOLD_CRITICAL", 0.8),
			LexiconPath:       getEnv("LEXICON_PATH", ""),
		},

		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 1*time.Minute),
		DispatchInterval:    getEnvDuration("DISPATCH_INTERVAL", 5*time.Minute),
		EscalationQueueSize: getEnvInt("ESCALATION_QUEUE_SIZE", 100),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and
// internally consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= c.SessionIdleTimeout {
		return fmt.Errorf("SESSION_TTL must exceed SESSION_IDLE_TIMEOUT")
	}
	if c.SessionContextWindow <= 0 {
		return fmt.Errorf("SESSION_CONTEXT_WINDOW must be > 0")
	}
	if c.RateLimitCapacity < 1 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be >= 1")
	}
	if c.RateLimitRefillPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_REFILL_PER_MIN must be > 0")
	}
	if len(c.FollowUpIntervals) == 0 {
		return fmt.Errorf("FOLLOWUP_INTERVALS cannot be empty")
	}
	for i := 1; i < len(c.FollowUpIntervals); i++ {
		if c.FollowUpIntervals[i] <= c.FollowUpIntervals[i-1] {
			return fmt.Errorf("FOLLOWUP_INTERVALS must be strictly increasing")
		}
	}
	r := c.Risk
	if !(0 < r.ThresholdMedium && r.ThresholdMedium < r.ThresholdHigh && r.ThresholdHigh < r.ThresholdCritical && r.ThresholdCritical <= 1) {
		return fmt.Errorf("risk thresholds must satisfy 0 < medium < high < critical <= 1")
	}
	if c.EscalationQueueSize <= 0 {
		return fmt.Errorf("ESCALATION_QUEUE_SIZE must be > 0")
	}
	if c.SweepInterval <= 0 || c.DispatchInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and DISPATCH_INTERVAL must be > 0")
	}
	return nil
}

func parseIntervals(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad interval %q: %w", p, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("interval must be a positive day offset, got %d", n)
		}
		out = append(out, n)
	}
	return out, nil
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
