// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/riskguard/riskguard/internal/security"
)

// Backend names accepted by PHONE_NORMALIZER, ADDRESS_CHECKER and
// RISK_EVALUATOR.
const (
	PhoneTable       = "table"
	PhoneModel       = "model"
	AddressHeuristic = "heuristic"
	AddressModel     = "model"
	RiskRules        = "rules"
	RiskModel        = "model"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Geo providers
	ZipcodeStackAPIKey string // primary provider is disabled without a key
	ZipcodeStackURL    string
	NominatimURL       string
	NominatimUserAgent string
	NominatimRPS       float64
	GeoTimeout         time.Duration
	GeoMaxAttempts     int
	GeoCacheTTL        time.Duration
	GeoCacheMB         int

	// Chat-completion model used by the model backends
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModel     string // address checks
	LLMFastModel string // phone normalization
	LLMTimeout   time.Duration

	// Backends
	PhoneNormalizer string
	AddressChecker  string
	RiskEvaluator   string

	// Scoring
	VelocityRuleExpr string // empty selects the built-in expression

	// Security
	RateLimitRPM int
	CORSOrigins  []string

	// Review notifications
	ReviewWebhookURLs   []string
	ReviewWebhookSecret string

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// Defaults
const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultLLMBaseURL   = "https://api.groq.com/openai/v1"
	DefaultLLMModel     = "llama-3.3-70b-versatile"
	DefaultLLMFastModel = "llama-3.1-8b-instant"
	DefaultLLMTimeout   = 20 * time.Second
	DefaultGeoTimeout   = 5 * time.Second
	DefaultGeoAttempts  = 3
	DefaultGeoCacheTTL  = 24 * time.Hour
	DefaultGeoCacheMB   = 64
	DefaultNominatimRPS = 1.0
	DefaultRateLimitRPM = 120
	DefaultZipcodeURL   = "https://api.zipcodestack.com/v1"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	DefaultUserAgent    = "riskguard-fraud-detection/1.0"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ZipcodeStackAPIKey: os.Getenv("ZIPCODESTACK_API_KEY"),
		ZipcodeStackURL:    getEnv("ZIPCODESTACK_URL", DefaultZipcodeURL),
		NominatimURL:       getEnv("NOMINATIM_URL", DefaultNominatimURL),
		NominatimUserAgent: getEnv("NOMINATIM_USER_AGENT", DefaultUserAgent),
		NominatimRPS:       getEnvFloat("NOMINATIM_RPS", DefaultNominatimRPS),
		GeoTimeout:         getEnvDuration("GEO_TIMEOUT", DefaultGeoTimeout),
		GeoMaxAttempts:     int(getEnvInt64("GEO_MAX_ATTEMPTS", DefaultGeoAttempts)),
		GeoCacheTTL:        getEnvDuration("GEO_CACHE_TTL", DefaultGeoCacheTTL),
		GeoCacheMB:         int(getEnvInt64("GEO_CACHE_MB", DefaultGeoCacheMB)),
		LLMAPIKey:          getEnv("LLM_API_KEY", os.Getenv("GROQ_API_KEY")),
		LLMBaseURL:         getEnv("LLM_BASE_URL", DefaultLLMBaseURL),
		LLMModel:           getEnv("LLM_MODEL", DefaultLLMModel),
		LLMFastModel:       getEnv("LLM_FAST_MODEL", DefaultLLMFastModel),
		LLMTimeout:         getEnvDuration("LLM_TIMEOUT", DefaultLLMTimeout),
		PhoneNormalizer:    strings.ToLower(getEnv("PHONE_NORMALIZER", PhoneTable)),
		AddressChecker:     strings.ToLower(getEnv("ADDRESS_CHECKER", AddressHeuristic)),
		RiskEvaluator:      strings.ToLower(getEnv("RISK_EVALUATOR", RiskRules)),
		VelocityRuleExpr:   os.Getenv("VELOCITY_RULE_EXPR"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:        getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:   getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),

		ReviewWebhookURLs:   getEnvList("REVIEW_WEBHOOK_URLS", nil),
		ReviewWebhookSecret: os.Getenv("REVIEW_WEBHOOK_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.PhoneNormalizer {
	case PhoneTable, PhoneModel:
	default:
		return fmt.Errorf("PHONE_NORMALIZER must be %q or %q, got %q", PhoneTable, PhoneModel, c.PhoneNormalizer)
	}
	switch c.AddressChecker {
	case AddressHeuristic, AddressModel:
	default:
		return fmt.Errorf("ADDRESS_CHECKER must be %q or %q, got %q", AddressHeuristic, AddressModel, c.AddressChecker)
	}
	switch c.RiskEvaluator {
	case RiskRules, RiskModel:
	default:
		return fmt.Errorf("RISK_EVALUATOR must be %q or %q, got %q", RiskRules, RiskModel, c.RiskEvaluator)
	}
	if c.UsesModel() && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required when a model backend is selected")
	}

	if c.GeoTimeout <= 0 {
		return fmt.Errorf("GEO_TIMEOUT must be positive")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.GeoMaxAttempts < 1 {
		return fmt.Errorf("GEO_MAX_ATTEMPTS must be at least 1")
	}
	if c.NominatimRPS <= 0 {
		return fmt.Errorf("NOMINATIM_RPS must be positive")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be between 0 and 1")
	}

	// Outbound provider URLs must be public HTTPS endpoints in production.
	if c.IsProduction() {
		for name, raw := range map[string]string{
			"LLM_BASE_URL":     c.LLMBaseURL,
			"ZIPCODESTACK_URL": c.ZipcodeStackURL,
			"NOMINATIM_URL":    c.NominatimURL,
		} {
			if err := security.ValidateProviderURL(raw, false); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	for _, raw := range c.ReviewWebhookURLs {
		if err := security.ValidateProviderURL(raw, !c.IsProduction()); err != nil {
			return fmt.Errorf("REVIEW_WEBHOOK_URLS: %w", err)
		}
	}

	return nil
}

// UsesModel reports whether any backend calls the chat-completion model.
func (c *Config) UsesModel() bool {
	return c.PhoneNormalizer == PhoneModel || c.AddressChecker == AddressModel || c.RiskEvaluator == RiskModel
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
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

// getEnvDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
