// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// History store
	DatabaseURL      string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL         string // Merchant reputation cache (optional)
	MerchantCacheTTL time.Duration

	// Decision stream
	KafkaBrokers []string
	KafkaTopic   string

	// Embeddings
	EmbeddingProvider string // "hash" or "openai"
	OpenAIAPIKey      string
	OpenAIBaseURL     string // Any OpenAI-compatible endpoint
	EmbeddingModel    string
	EmbeddingDim      int

	// Analysis
	AgentTimeout    time.Duration
	AnalysisTimeout time.Duration

	// Security
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultKafkaTopic        = "fraud.decisions"
	DefaultEmbeddingProvider = "hash"
	DefaultEmbeddingModel    = "text-embedding-3-small"
	DefaultEmbeddingDim      = 768
	DefaultMerchantCacheTTL  = 5 * time.Minute
	DefaultAgentTimeout      = 2 * time.Second
	DefaultAnalysisTimeout   = 5 * time.Second
	DefaultRateLimit         = 600
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		MerchantCacheTTL:  getEnvDuration("MERCHANT_CACHE_TTL", DefaultMerchantCacheTTL),
		KafkaBrokers:      getEnvList("KAFKA_BROKERS"),
		KafkaTopic:        getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", DefaultEmbeddingProvider),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", DefaultEmbeddingModel),
		EmbeddingDim:      int(getEnvInt64("EMBEDDING_DIM", DefaultEmbeddingDim)),
		AgentTimeout:      getEnvDuration("AGENT_TIMEOUT", DefaultAgentTimeout),
		AnalysisTimeout:   getEnvDuration("ANALYSIS_TIMEOUT", DefaultAnalysisTimeout),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case "hash":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be \"hash\" or \"openai\", got %q", c.EmbeddingProvider)
	}

	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}

	if c.AgentTimeout <= 0 || c.AnalysisTimeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT and ANALYSIS_TIMEOUT must be positive")
	}
	if c.AgentTimeout > c.AnalysisTimeout {
		return fmt.Errorf("AGENT_TIMEOUT (%s) must not exceed ANALYSIS_TIMEOUT (%s)", c.AgentTimeout, c.AnalysisTimeout)
	}

	if c.MerchantCacheTTL <= 0 {
		return fmt.Errorf("MERCHANT_CACHE_TTL must be positive")
	}

	return nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
