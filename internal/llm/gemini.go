package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiProvider struct {
	model  string
	models geminiModels
}

var newGenAIClient = genai.NewClient

func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
			Timeout: &timeout,
		},
	}
	client, err := newGenAIClient(context.Background(), clientConfig)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{
		model:  defaultIfEmpty(cfg.Model, defaultGeminiModel),
		models: client.Models,
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if p.model == "" {
		return Result{}, ErrMissingModel
	}
	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(req.Instruction), buildGeminiConfig(req))
	if err != nil {
		return Result{}, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Result{}, errors.New("LLM request blocked: " + string(resp.PromptFeedback.BlockReason))
		}
		return Result{}, errors.New("LLM response had no candidates")
	}

	result := Result{Text: strings.TrimSpace(resp.Text())}
	for _, call := range resp.FunctionCalls() {
		if call == nil {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{Name: call.Name, Args: call.Args})
	}
	if result.Text == "" && len(result.ToolCalls) == 0 {
		return Result{}, ErrEmptyResponse
	}
	return result, nil
}

func buildGeminiConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.Schema
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		config.Tools = append(config.Tools, &genai.Tool{FunctionDeclarations: declarations})
	}
	// Search grounding cannot be combined with a response schema or function declarations.
	if req.Grounding && req.Schema == nil && len(req.Tools) == 0 {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return config
}
