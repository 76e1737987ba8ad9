package provider

import (
	"fmt"
	"testing"
)

func TestNewProviderDispatch(t *testing.T) {
	tests := []struct {
		name     string
		cfg      RequestConfig
		wantType string
		wantErr  bool
	}{
		{
			name:     "openai backend",
			cfg:      RequestConfig{Backend: "openai", APIKey: "k"},
			wantType: "*provider.OpenAIProvider",
		},
		{
			name:     "deepseek shares the openai driver",
			cfg:      RequestConfig{Backend: "deepseek", APIKey: "k", Endpoint: "https://api.deepseek.com/v1"},
			wantType: "*provider.OpenAIProvider",
		},
		{
			name:     "qwen shares the openai driver",
			cfg:      RequestConfig{Backend: "qwen", APIKey: "k", Endpoint: "https://dashscope.example/v1"},
			wantType: "*provider.OpenAIProvider",
		},
		{
			name:     "anthropic backend",
			cfg:      RequestConfig{Backend: "anthropic", APIKey: "k"},
			wantType: "*provider.AnthropicProvider",
		},
		{
			name:     "ollama needs no key",
			cfg:      RequestConfig{Backend: "ollama"},
			wantType: "*provider.OllamaProvider",
		},
		{
			name:     "empty backend defaults to openai",
			cfg:      RequestConfig{APIKey: "k"},
			wantType: "*provider.OpenAIProvider",
		},
		{
			name:     "unknown backend with endpoint gets the openai driver",
			cfg:      RequestConfig{Backend: "somelab", APIKey: "k", Endpoint: "https://api.somelab.dev/v1"},
			wantType: "*provider.OpenAIProvider",
		},
		{
			name:    "unknown backend without endpoint fails",
			cfg:     RequestConfig{Backend: "somelab", APIKey: "k"},
			wantErr: true,
		},
		{
			name:    "openai without key fails",
			cfg:     RequestConfig{Backend: "openai"},
			wantErr: true,
		},
		{
			name:    "anthropic without key fails",
			cfg:     RequestConfig{Backend: "anthropic"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, "stream-1", Deps{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("driver type = %s, want %s", gotType, tt.wantType)
			}
		})
	}
}
