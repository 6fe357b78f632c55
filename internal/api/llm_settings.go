package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/secrets"
	"github.com/musoukun/policyScope/internal/store"
)

var newLLMProvider = llm.NewProvider

var modelsHTTPClient = &http.Client{Timeout: 30 * time.Second}

var geminiModels = []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"}

type llmSettingsRequest struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

type llmModelsRequest struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

type llmSettingsResponse struct {
	Configured bool   `json:"configured"`
	Mode       string `json:"mode"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url"`
	HasAPIKey  bool   `json:"has_api_key"`
	APIKey     string `json:"api_key,omitempty"`
}

func (s *Server) getLLMSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetLLMSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := llmSettingsResponse{
		Mode:     s.cfg.LLMMode,
		Provider: s.cfg.LLMProvider,
		Model:    s.cfg.LLMModel,
		BaseURL:  s.cfg.LLMBaseURL,
	}
	if settings != nil {
		response.Configured = true
		response.Mode = settings.Mode
		response.Provider = settings.Provider
		response.Model = settings.Model
		response.BaseURL = settings.BaseURL
		response.HasAPIKey = settings.APIKeyEnc != ""
		if settings.APIKeyEnc != "" && s.sealer != nil {
			if apiKey, err := s.sealer.Open(settings.Provider, settings.APIKeyEnc); err == nil {
				response.APIKey = secrets.Mask(apiKey)
			}
		}
	}
	writeJSON(w, response)
}

func (s *Server) updateLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	settings, err := s.store.GetLLMSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	mode := firstNonEmpty(req.Mode, s.cfg.LLMMode)
	provider := firstNonEmpty(req.Provider, s.cfg.LLMProvider)
	model := firstNonEmpty(req.Model, s.cfg.LLMModel)
	baseURL := firstNonEmpty(req.BaseURL, s.cfg.LLMBaseURL)
	if settings != nil {
		mode = firstNonEmpty(req.Mode, settings.Mode)
		provider = firstNonEmpty(req.Provider, settings.Provider)
		model = firstNonEmpty(req.Model, settings.Model)
		baseURL = firstNonEmpty(req.BaseURL, settings.BaseURL)
	}

	apiKeyEnc := ""
	if settings != nil && settings.Provider == provider {
		apiKeyEnc = settings.APIKeyEnc
	}
	if req.APIKey != "" {
		if s.sealer == nil {
			http.Error(w, secrets.ErrKeyRequired.Error(), http.StatusBadRequest)
			return
		}
		ciphertext, err := s.sealer.Seal(provider, req.APIKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		apiKeyEnc = ciphertext
	}
	if providerNeedsKey(provider) && apiKeyEnc == "" && mode != "fixture" && s.envAPIKey(provider) == "" {
		http.Error(w, "API key required for provider", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := now
	if settings != nil && settings.CreatedAt != "" {
		createdAt = settings.CreatedAt
	}
	if err := s.store.UpsertLLMSettings(r.Context(), store.LLMSettings{
		Mode:      mode,
		Provider:  provider,
		Model:     model,
		BaseURL:   baseURL,
		APIKeyEnc: apiKeyEnc,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.getLLMSettings(w, r)
}

func (s *Server) testLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	providerConfig, err := s.buildLLMConfig(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	provider, err := newLLMProvider(providerConfig)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	if _, err := provider.Generate(ctx, llm.Request{Name: "ping", Instruction: "ping"}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"status": "Connected"})
}

func (s *Server) listLLMModels(w http.ResponseWriter, r *http.Request) {
	var req llmModelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	cfg, err := s.buildLLMConfig(r.Context(), llmSettingsRequest{Provider: req.Provider, BaseURL: req.BaseURL, APIKey: req.APIKey})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	models, err := fetchModels(r.Context(), cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"models": models})
}

// buildLLMConfig layers the request over stored settings over the
// environment, opening the stored key when the request carries none.
func (s *Server) buildLLMConfig(ctx context.Context, req llmSettingsRequest) (llm.Config, error) {
	cfg := s.cfg.LLM()
	settings, err := s.store.GetLLMSettings(ctx)
	if err != nil {
		return llm.Config{}, err
	}
	if settings != nil {
		cfg.Mode = firstNonEmpty(settings.Mode, cfg.Mode)
		cfg.Provider = firstNonEmpty(settings.Provider, cfg.Provider)
		cfg.Model = firstNonEmpty(settings.Model, cfg.Model)
		cfg.BaseURL = firstNonEmpty(settings.BaseURL, cfg.BaseURL)
	}
	cfg.Mode = firstNonEmpty(req.Mode, cfg.Mode)
	if req.Provider != "" && req.Provider != cfg.Provider {
		cfg.Provider = req.Provider
		cfg.Model = ""
		cfg.BaseURL = ""
	}
	cfg.Model = firstNonEmpty(req.Model, cfg.Model)
	cfg.BaseURL = firstNonEmpty(req.BaseURL, cfg.BaseURL)

	apiKey := req.APIKey
	if apiKey == "" && settings != nil && settings.APIKeyEnc != "" && settings.Provider == cfg.Provider {
		if s.sealer == nil {
			return llm.Config{}, errors.New("LLM_SECRETS_KEY is required to decrypt API keys")
		}
		opened, err := s.sealer.Open(settings.Provider, settings.APIKeyEnc)
		if err != nil {
			return llm.Config{}, err
		}
		apiKey = opened
	}
	if apiKey != "" {
		switch cfg.Provider {
		case "openai":
			cfg.OpenAIAPIKey = apiKey
		case "openrouter":
			cfg.OpenRouterAPIKey = apiKey
		default:
			cfg.GeminiAPIKey = apiKey
		}
	}
	if providerNeedsKey(cfg.Provider) && cfg.Mode != "fixture" && s.configAPIKey(cfg) == "" {
		return llm.Config{}, errors.New("API key required for provider")
	}
	return cfg, nil
}

func (s *Server) envAPIKey(provider string) string {
	return s.configAPIKey(llm.Config{
		Provider:         provider,
		GeminiAPIKey:     s.cfg.GeminiAPIKey,
		OpenAIAPIKey:     s.cfg.OpenAIAPIKey,
		OpenRouterAPIKey: s.cfg.OpenRouterAPIKey,
	})
}

func (s *Server) configAPIKey(cfg llm.Config) string {
	switch cfg.Provider {
	case "openai":
		return cfg.OpenAIAPIKey
	case "openrouter":
		return cfg.OpenRouterAPIKey
	default:
		return cfg.GeminiAPIKey
	}
}

func fetchModels(ctx context.Context, cfg llm.Config) ([]string, error) {
	if cfg.Mode == "fixture" {
		return []string{"fixture"}, nil
	}
	apiKey := ""
	baseURL := cfg.BaseURL
	switch cfg.Provider {
	case "", "gemini":
		return append([]string(nil), geminiModels...), nil
	case "openrouter":
		apiKey = cfg.OpenRouterAPIKey
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
	case "openai":
		apiKey = cfg.OpenAIAPIKey
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
	default:
		return nil, llm.ErrUnsupportedProvider{Provider: cfg.Provider}
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := modelsHTTPClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("model list failed: %s", resp.Status)
	}
	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(payload.Data))
	for _, entry := range payload.Data {
		if entry.ID != "" {
			models = append(models, entry.ID)
		}
	}
	sort.Strings(models)
	return models, nil
}

func providerNeedsKey(provider string) bool {
	switch provider {
	case "", "gemini", "openai", "openrouter":
		return true
	default:
		return false
	}
}

func firstNonEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
