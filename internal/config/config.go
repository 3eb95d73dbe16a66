package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the evaluation service.
type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	DatabaseURL string
	RedisURL    string

	Kafka   KafkaConfig
	AI      AIConfig
	Grading GradingConfig
	Casdoor CasdoorConfig
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AIConfig configures the external text-evaluation backend used for
// open-ended grading. BaseURL is optional and allows pointing the
// OpenAI-compatible client at a self-hosted endpoint.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// GradingConfig carries the tunable evaluation and analytics thresholds.
type GradingConfig struct {
	MaxRetries  int
	CallTimeout time.Duration

	// Intervention quadrant thresholds (inclusive on the high side).
	ScoreThreshold float64
	TimeThreshold  float64 // minutes

	// At-risk identification.
	AtRiskScoreCutoff     float64
	AtRiskLowScoreCount   int
	AtRiskIncompleteCount int
}

type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// LoadConfig reads configuration from the environment, loading a local
// .env file first when present.
func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		Kafka: KafkaConfig{
			Brokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "evaluation-events"),
		},
		AI: AIConfig{
			BaseURL: getEnv("AI_BASE_URL", ""),
			APIKey:  getEnv("AI_API_KEY", ""),
			Model:   getEnv("AI_MODEL", "gpt-4o-mini"),
		},
		Grading: GradingConfig{
			MaxRetries:            getEnvInt("GRADING_MAX_RETRIES", 2),
			CallTimeout:           getEnvDuration("GRADING_CALL_TIMEOUT", 30*time.Second),
			ScoreThreshold:        getEnvFloat("QUADRANT_SCORE_THRESHOLD", 70),
			TimeThreshold:         getEnvFloat("QUADRANT_TIME_THRESHOLD", 60),
			AtRiskScoreCutoff:     getEnvFloat("AT_RISK_SCORE_CUTOFF", 60),
			AtRiskLowScoreCount:   getEnvInt("AT_RISK_LOW_SCORE_COUNT", 2),
			AtRiskIncompleteCount: getEnvInt("AT_RISK_INCOMPLETE_COUNT", 2),
		},
		Casdoor: CasdoorConfig{
			Endpoint:     getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:     getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:         getEnv("CASDOOR_CERT", ""),
			Organization: getEnv("CASDOOR_ORGANIZATION", ""),
			Application:  getEnv("CASDOOR_APPLICATION", ""),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
