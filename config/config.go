package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	// Neo4j connection
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Ollama LLM service
	OllamaHost        string
	OllamaModel       string
	OllamaTemperature float64
	OllamaMaxTokens   int

	// Security
	AllowedTickers []string
	MaxQueryLength int
	MaxCypherLimit int

	// Cache TTLs
	ResponseCacheTTL       time.Duration
	ClassificationCacheTTL time.Duration
	ComprehensiveCacheTTL  time.Duration

	Port     string
	LogLevel string
}

// Load reads configuration from environment variables.
// If a .env file exists, it will be loaded first, but shell environment
// variables take precedence over .env values.
func Load() (*Config, error) {
	// Load .env file if it exists (does not override existing env vars)
	_ = godotenv.Load()

	cfg := &Config{
		Neo4jURI:               getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:              getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:          os.Getenv("NEO4J_PASSWORD"),
		Neo4jDatabase:          getEnv("NEO4J_DATABASE", "neo4j"),
		OllamaHost:             getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:            getEnv("OLLAMA_MODEL", "mistral:instruct"),
		Port:                   getEnv("PORT", "8080"),
		LogLevel:               getEnv("LOGLEVEL", "info"),
		AllowedTickers:         splitList(getEnv("ALLOWED_TICKERS", "SPY,QQQ,IWM,IJH,IVE,IVW")),
		ResponseCacheTTL:       getEnvSeconds("RESPONSE_CACHE_TTL", 18000),
		ClassificationCacheTTL: getEnvSeconds("CLASSIFICATION_CACHE_TTL", 3600),
		ComprehensiveCacheTTL:  getEnvSeconds("COMPREHENSIVE_CACHE_TTL", 36000),
	}

	if cfg.Neo4jPassword == "" {
		return nil, fmt.Errorf("NEO4J_PASSWORD environment variable is required")
	}

	var err error
	if cfg.OllamaTemperature, err = getEnvFloat("OLLAMA_TEMPERATURE", 0.2); err != nil {
		return nil, err
	}
	if cfg.OllamaMaxTokens, err = getEnvInt("OLLAMA_MAX_TOKENS", 500); err != nil {
		return nil, err
	}
	if cfg.MaxQueryLength, err = getEnvInt("MAX_QUERY_LENGTH", 512); err != nil {
		return nil, err
	}
	if cfg.MaxCypherLimit, err = getEnvInt("MAX_CYPHER_LIMIT", 50); err != nil {
		return nil, err
	}

	if len(cfg.AllowedTickers) == 0 {
		return nil, fmt.Errorf("ALLOWED_TICKERS must name at least one ETF")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvSeconds(key string, fallback int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Duration(fallback) * time.Second
	}
	return time.Duration(n) * time.Second
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
