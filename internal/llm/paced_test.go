package llm

import (
	"context"
	"testing"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

type countingProvider struct {
	calls int
}

func (c *countingProvider) Generate(ctx context.Context, req Request) (Result, error) {
	c.calls++
	return Result{Text: "ok"}, nil
}

func TestPaced_NilLimiterReturnsProvider(t *testing.T) {
	next := &countingProvider{}
	if got := Paced(next, nil); got != next {
		t.Errorf("expected the wrapped provider to be returned unchanged")
	}
}

func TestPaced_WaitsForToken(t *testing.T) {
	next := &countingProvider{}
	provider := Paced(next, rate.NewLimiter(rate.Inf, 1))
	for i := 0; i < 3; i++ {
		if _, err := provider.Generate(context.Background(), Request{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if next.calls != 3 {
		t.Errorf("expected 3 calls, got %d", next.calls)
	}
}

func TestPaced_CancelledContext(t *testing.T) {
	next := &countingProvider{}
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	limiter.Allow()
	provider := Paced(next, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := provider.Generate(ctx, Request{})
	if err == nil {
		t.Fatal("expected error when context is cancelled")
	}
	if next.calls != 0 {
		t.Errorf("expected backend not to be called, got %d calls", next.calls)
	}
}

func TestJSONSchema(t *testing.T) {
	minimum, maximum := 0.0, 5.0
	schema := &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"score"},
		Properties: map[string]*genai.Schema{
			"score":  {Type: genai.TypeNumber, Minimum: &minimum, Maximum: &maximum},
			"stance": {Type: genai.TypeString, Enum: []string{"support", "oppose"}},
			"tags":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
	}
	out := JSONSchema(schema)
	if out["type"] != "object" {
		t.Errorf("expected lowercase object type, got %v", out["type"])
	}
	properties := out["properties"].(map[string]any)
	score := properties["score"].(map[string]any)
	if score["type"] != "number" || score["minimum"] != 0.0 || score["maximum"] != 5.0 {
		t.Errorf("unexpected score schema %v", score)
	}
	stance := properties["stance"].(map[string]any)
	if len(stance["enum"].([]any)) != 2 {
		t.Errorf("unexpected enum %v", stance["enum"])
	}
	tags := properties["tags"].(map[string]any)
	if tags["items"].(map[string]any)["type"] != "string" {
		t.Errorf("unexpected items %v", tags["items"])
	}
	if required := out["required"].([]any); len(required) != 1 || required[0] != "score" {
		t.Errorf("unexpected required %v", out["required"])
	}

	if JSONSchema(nil)["type"] != "object" {
		t.Error("expected nil schema to render as an object")
	}
}
