package llm

import (
	"errors"
	"testing"
)

func TestErrUnsupportedProvider_Error(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		expected string
	}{
		{name: "anthropic", provider: "anthropic", expected: "unsupported LLM provider: anthropic"},
		{name: "empty", provider: "", expected: "unsupported LLM provider: "},
		{name: "custom", provider: "my-custom-provider", expected: "unsupported LLM provider: my-custom-provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ErrUnsupportedProvider{Provider: tt.provider}
			if err.Error() != tt.expected {
				t.Errorf("expected error message '%s', got '%s'", tt.expected, err.Error())
			}
		})
	}
}

func TestErrUnsupportedProvider_As(t *testing.T) {
	_, err := NewProvider(Config{Provider: "anthropic"})
	var unsupported ErrUnsupportedProvider
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedProvider, got %T", err)
	}
	if unsupported.Provider != "anthropic" {
		t.Errorf("expected Provider field to be 'anthropic', got '%s'", unsupported.Provider)
	}
}
