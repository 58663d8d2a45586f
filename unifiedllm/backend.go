package unifiedllm

import (
	"context"
	"fmt"
	"os"
	"time"
)

// BackendConfig selects and configures one inference backend.
type BackendConfig struct {
	Provider       string   `yaml:"provider" json:"provider"`
	Model          string   `yaml:"model" json:"model"`
	BaseURL        string   `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey         string   `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens      int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	// GollmProvider names the gollm provider when Provider is "gollm".
	GollmProvider string `yaml:"gollm_provider,omitempty" json:"gollm_provider,omitempty"`
}

// Known backend identifiers.
const (
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
	BackendLMStudio  = "lmstudio"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
	BackendGollm     = "gollm"
)

// Backends lists the supported backend identifiers.
func Backends() []string {
	return []string{BackendOllama, BackendLlamaCpp, BackendLMStudio, BackendOpenAI, BackendAnthropic, BackendGemini, BackendGollm}
}

var defaultBaseURLs = map[string]string{
	BackendOllama:   DefaultOllamaURL,
	BackendLlamaCpp: "http://localhost:8080/v1",
	BackendLMStudio: "http://localhost:1234/v1",
}

// envKeys names the environment variable consulted when no API key is set.
var envKeys = map[string]string{
	BackendOpenAI:    "OPENAI_API_KEY",
	BackendAnthropic: "ANTHROPIC_API_KEY",
	BackendGemini:    "GEMINI_API_KEY",
}

// NewAdapter builds the adapter for cfg.Provider.
func NewAdapter(ctx context.Context, cfg BackendConfig) (ProviderAdapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.Provider]
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		if env, ok := envKeys[cfg.Provider]; ok {
			apiKey = os.Getenv(env)
		}
	}

	switch cfg.Provider {
	case BackendOllama:
		return NewOllamaAdapter(baseURL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case BackendLlamaCpp, BackendLMStudio:
		return NewOpenAIAdapter(cfg.Provider, apiKey, baseURL), nil
	case BackendOpenAI:
		if apiKey == "" && baseURL == "" {
			return nil, missingKey(cfg.Provider)
		}
		return NewOpenAIAdapter(cfg.Provider, apiKey, baseURL), nil
	case BackendAnthropic:
		if apiKey == "" {
			return nil, missingKey(cfg.Provider)
		}
		return NewAnthropicAdapter(apiKey, baseURL), nil
	case BackendGemini:
		if apiKey == "" {
			return nil, missingKey(cfg.Provider)
		}
		return NewGeminiAdapter(ctx, apiKey)
	case BackendGollm:
		provider := cfg.GollmProvider
		if provider == "" {
			return nil, &ConfigurationError{SDKError: SDKError{Message: "gollm backend requires gollm_provider"}}
		}
		opts := []GollmAdapterOption{WithModel(cfg.Model)}
		if cfg.MaxTokens > 0 {
			opts = append(opts, WithMaxTokens(cfg.MaxTokens))
		}
		if cfg.Temperature != nil {
			opts = append(opts, WithTemperature(*cfg.Temperature))
		}
		return NewGollmAdapter(provider, apiKey, opts...)
	default:
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("unknown backend %q", cfg.Provider),
		}}
	}
}

// NewClientFromBackend builds a Client whose default provider is cfg's backend.
func NewClientFromBackend(ctx context.Context, cfg BackendConfig, opts ...ClientOption) (*Client, error) {
	adapter, err := NewAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]ClientOption{WithProvider(adapter.Name(), adapter), WithDefaultProvider(adapter.Name())}, opts...)
	return NewClient(opts...), nil
}

func missingKey(provider string) error {
	return &ConfigurationError{SDKError: SDKError{
		Message: fmt.Sprintf("%s backend requires an API key (set api_key or %s)", provider, envKeys[provider]),
	}}
}
