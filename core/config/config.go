package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/core/db"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the HTTP server port for cmd/server's approval webhook
	Port string

	// DB holds database configuration
	DB db.Config

	// Redis holds Redis connection and stream configuration
	Redis RedisConfig

	// OTel holds OpenTelemetry exporter configuration
	OTel OTelConfig

	// AgentLLM configures the tool-calling model used by the agent runner
	AgentLLM llm.Config
	// AgentProvider selects which AgentClient backend ("openai" or "anthropic")
	// AgentLLM is wired into.
	AgentProvider string

	// StructuredLLM configures the structured-output model used for gap
	// detection and critique scoring.
	StructuredLLM llm.Config

	// VectorDimension is the embedding width documents are stored and
	// searched with (pgvector column width).
	VectorDimension int

	// MaxIterations bounds the Plan/Research/Critique/Refine cycle. Clamped
	// to the engine's hard cap regardless of what is configured here.
	MaxIterations int

	// QualityThreshold is the critique score (0..1) at or above which the
	// graph routes Critique -> Finish instead of Critique -> Refine.
	QualityThreshold float64

	// ApprovalTimeoutSeconds is how long the approval coordinator waits for
	// a human decision before escalating.
	ApprovalTimeoutSeconds int

	// ToolCallTimeoutSeconds bounds a single tool invocation inside the
	// agent runner.
	ToolCallTimeoutSeconds int
}

// RedisConfig holds the Redis connection used for tool-registry
// invalidation, approval suspend/resume, and the inbound workflow trigger
// stream consumed by cmd/worker.
type RedisConfig struct {
	URL            string
	TriggerStream  string
	TriggerGroup   string
	TriggerConsumer string
	DLQStream      string
}

// OTelConfig configures the trace and log export pipeline.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	SamplingRatio  float64
}

// Enabled reports whether OTel export is configured at all. An empty
// endpoint disables telemetry entirely; "memory" selects the in-memory
// exporter used by tests.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load loads configuration from environment variables.
// It provides sensible defaults for development, where variables from a
// local .env file are loaded first if one exists.
func Load() Config {
	if getEnv("DEEPRESEARCH_ENV", "development") == "development" {
		_ = godotenv.Load()
	}

	return Config{
		Env:  getEnv("DEEPRESEARCH_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", buildDSN()),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
			TriggerStream:   getEnv("REDIS_TRIGGER_STREAM", "research-sessions"),
			TriggerGroup:    getEnv("REDIS_TRIGGER_GROUP", "deepresearch-workers"),
			TriggerConsumer: getEnv("REDIS_TRIGGER_CONSUMER", hostnameOrDefault()),
			DLQStream:       getEnv("REDIS_TRIGGER_DLQ_STREAM", "research-sessions-dlq"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "deepresearch"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SamplingRatio:  getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		AgentLLM: llm.Config{
			APIKey:  getEnv("MODEL_AGENT_API_KEY", ""),
			BaseURL: getEnv("MODEL_AGENT_BASE_URL", ""),
			Model:   getEnv("MODEL_AGENT_NAME", "gpt-5-codex"),
		},
		AgentProvider: getEnv("MODEL_AGENT_PROVIDER", "openai"),
		StructuredLLM: llm.Config{
			APIKey:  getEnv("MODEL_STRUCTURED_API_KEY", ""),
			BaseURL: getEnv("MODEL_STRUCTURED_BASE_URL", ""),
			Model:   getEnv("MODEL_STRUCTURED_NAME", "gpt-5-codex"),
		},
		VectorDimension:        getEnvInt("VECTOR_DIMENSION", 1536),
		MaxIterations:          getEnvInt("MAX_ITERATIONS", 5),
		QualityThreshold:       getEnvFloat("QUALITY_THRESHOLD", 0.8),
		ApprovalTimeoutSeconds: getEnvInt("APPROVAL_TIMEOUT_SECONDS", 300),
		ToolCallTimeoutSeconds: getEnvInt("TOOL_CALL_TIMEOUT_SECONDS", 30),
	}
}

// buildDSN constructs the database connection string from individual env
// vars, used as a fallback when DATABASE_URL is not set.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "deepresearch")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func hostnameOrDefault() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "deepresearch-worker"
}
