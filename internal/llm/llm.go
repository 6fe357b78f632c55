package llm

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single backend invocation. Schema, when set, constrains the
// response to structured JSON; otherwise the backend answers in free text.
type Request struct {
	Name        string
	System      string
	Instruction string
	Schema      *genai.Schema
	Tools       []Tool
	Grounding   bool
}

type Tool struct {
	Name        string
	Description string
	Parameters  *genai.Schema
}

type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type Result struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Provider interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	Mode              string
	Provider          string
	Model             string
	BaseURL           string
	FallbackProvider  string
	FallbackModel     string
	FallbackBaseURL   string
	GeminiAPIKey      string
	OpenAIAPIKey      string
	OpenRouterAPIKey  string
	FixtureDir        string
	RequestsPerMinute int
}

func NewProvider(cfg Config) (Provider, error) {
	provider, err := newBaseProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		limiter := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1)
		return Paced(provider, limiter), nil
	}
	return provider, nil
}

func newBaseProvider(cfg Config) (Provider, error) {
	if cfg.Mode == "fixture" {
		return NewFixtureProvider(cfg.FixtureDir)
	}

	switch cfg.Provider {
	case "", "gemini":
		return NewGeminiProvider(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   defaultIfEmpty(cfg.Model, defaultGeminiModel),
			BaseURL: cfg.BaseURL,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

// Fallback returns the config describing the secondary backend, or false when
// none is configured.
func (c Config) Fallback() (Config, bool) {
	if c.FallbackProvider == "" {
		return Config{}, false
	}
	fallback := c
	fallback.Provider = c.FallbackProvider
	fallback.Model = c.FallbackModel
	fallback.BaseURL = c.FallbackBaseURL
	fallback.FallbackProvider = ""
	fallback.FallbackModel = ""
	fallback.FallbackBaseURL = ""
	return fallback, true
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
