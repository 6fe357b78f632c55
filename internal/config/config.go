package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/musoukun/policyScope/internal/limits"
	"github.com/musoukun/policyScope/internal/llm"
)

type Config struct {
	ServerPort           string
	ServerURL            string
	StoreBackend         string
	PostgresURL          string
	RedisURL             string
	TemporalAddress      string
	TemporalTaskQueue    string
	LLMMode              string
	LLMProvider          string
	LLMModel             string
	LLMBaseURL           string
	LLMFallbackProvider  string
	LLMFallbackModel     string
	LLMFallbackBaseURL   string
	GeminiAPIKey         string
	OpenAIAPIKey         string
	OpenRouterAPIKey     string
	LLMFixtureDir        string
	LLMRequestsPerMinute int
	LLMSearchGrounding   bool
	LLMSecretsKey        string
	StageTimeout         time.Duration
	PromptsPath          string
	DailyResearchLimit   int
	DailyNewsLimit       int
	LogLevel             string
	LogFormat            string
	WorkerMetricsPort    string
}

func Load() Config {
	serverPort := getEnv("SERVER_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		ServerPort:           serverPort,
		ServerURL:            getEnv("SERVER_URL", "http://localhost:"+serverPort),
		StoreBackend:         strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		PostgresURL:          postgresURL,
		RedisURL:             getEnv("REDIS_URL", ""),
		TemporalAddress:      getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:    getEnv("TEMPORAL_TASK_QUEUE", "policyscope-research"),
		LLMMode:              getEnv("LLM_MODE", "remote"),
		LLMProvider:          getEnv("LLM_PROVIDER", "gemini"),
		LLMModel:             getEnv("LLM_MODEL", "gemini-2.5-flash"),
		LLMBaseURL:           getEnv("LLM_BASE_URL", ""),
		LLMFallbackProvider:  getEnv("LLM_FALLBACK_PROVIDER", ""),
		LLMFallbackModel:     getEnv("LLM_FALLBACK_MODEL", ""),
		LLMFallbackBaseURL:   getEnv("LLM_FALLBACK_BASE_URL", ""),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		LLMFixtureDir:        getEnv("LLM_FIXTURE_DIR", "testdata/fixtures"),
		LLMRequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 0),
		LLMSearchGrounding:   getEnvBool("LLM_SEARCH_GROUNDING", true),
		LLMSecretsKey:        getEnv("LLM_SECRETS_KEY", ""),
		StageTimeout:         getEnvDuration("STAGE_TIMEOUT", 3*time.Minute),
		PromptsPath:          getEnv("PROMPTS_PATH", ""),
		DailyResearchLimit:   getEnvInt("DAILY_RESEARCH_LIMIT", 10),
		DailyNewsLimit:       getEnvInt("DAILY_NEWS_LIMIT", 30),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		WorkerMetricsPort:    getEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// LLM returns the backend configuration taken from the environment.
func (c Config) LLM() llm.Config {
	return llm.Config{
		Mode:              c.LLMMode,
		Provider:          c.LLMProvider,
		Model:             c.LLMModel,
		BaseURL:           c.LLMBaseURL,
		FallbackProvider:  c.LLMFallbackProvider,
		FallbackModel:     c.LLMFallbackModel,
		FallbackBaseURL:   c.LLMFallbackBaseURL,
		GeminiAPIKey:      c.GeminiAPIKey,
		OpenAIAPIKey:      c.OpenAIAPIKey,
		OpenRouterAPIKey:  c.OpenRouterAPIKey,
		FixtureDir:        c.LLMFixtureDir,
		RequestsPerMinute: c.LLMRequestsPerMinute,
	}
}

func (c Config) Limits() limits.Limits {
	return limits.Limits{
		limits.WikiGeneration: c.DailyResearchLimit,
		limits.NewsFetch:      c.DailyNewsLimit,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "policyscope")
	password := getEnv("POSTGRES_PASSWORD", "policyscope")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "policyscope")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
