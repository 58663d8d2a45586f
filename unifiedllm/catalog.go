package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id" yaml:"id"`
	Provider      string   `json:"provider" yaml:"provider"`
	DisplayName   string   `json:"display_name" yaml:"display_name"`
	ContextWindow int      `json:"context_window" yaml:"context_window"` // tokens
	MaxOutput     *int     `json:"max_output,omitempty" yaml:"max_output,omitempty"`
	Local         bool     `json:"local" yaml:"local"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// DefaultContextWindow is assumed for models missing from the catalog.
const DefaultContextWindow = 8192

// Models is the built-in model catalog. Local models come first; the
// first entry for a provider is its default.
var Models = []ModelInfo{
	// Ollama
	{
		ID: "gemma3:4b", Provider: "ollama", DisplayName: "Gemma 3 4B",
		ContextWindow: 131072, MaxOutput: intPtr(8192), Local: true,
		Aliases: []string{"gemma3", "gemma"},
	},
	{
		ID: "qwen2.5-coder:7b", Provider: "ollama", DisplayName: "Qwen2.5 Coder 7B",
		ContextWindow: 32768, MaxOutput: intPtr(8192), Local: true,
		Aliases: []string{"qwen2.5-coder", "qwen-coder"},
	},
	{
		ID: "llama3.1:8b", Provider: "ollama", DisplayName: "Llama 3.1 8B",
		ContextWindow: 131072, MaxOutput: intPtr(8192), Local: true,
		Aliases: []string{"llama3.1", "llama3"},
	},
	{
		ID: "mistral:7b", Provider: "ollama", DisplayName: "Mistral 7B",
		ContextWindow: 32768, MaxOutput: intPtr(8192), Local: true,
		Aliases: []string{"mistral"},
	},

	// llama.cpp server and LM Studio expose whatever model is loaded.
	{
		ID: "local-model", Provider: "llamacpp", DisplayName: "llama.cpp loaded model",
		ContextWindow: DefaultContextWindow, Local: true,
	},
	{
		ID: "lmstudio-model", Provider: "lmstudio", DisplayName: "LM Studio loaded model",
		ContextWindow: DefaultContextWindow, Local: true,
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(16384),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// OpenAI
	{
		ID: "gpt-4.1-mini", Provider: "openai", DisplayName: "GPT-4.1 Mini",
		ContextWindow: 1047576, MaxOutput: intPtr(32768),
		Aliases: []string{"gpt-mini"},
	},
	{
		ID: "gpt-4.1", Provider: "openai", DisplayName: "GPT-4.1",
		ContextWindow: 1047576, MaxOutput: intPtr(32768),
	},

	// Gemini
	{
		ID: "gemini-2.5-flash", Provider: "gemini", DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, MaxOutput: intPtr(65536),
		Aliases: []string{"gemini-flash"},
	},
	{
		ID: "gemini-2.5-pro", Provider: "gemini", DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, MaxOutput: intPtr(65536),
		Aliases: []string{"gemini-pro"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ContextWindow returns the context window of a model in tokens, falling
// back to DefaultContextWindow for unknown models.
func ContextWindow(modelID string) int {
	if info := GetModelInfo(modelID); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return DefaultContextWindow
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the default model for a provider. When localOnly
// is set, hosted models are skipped.
func GetLatestModel(provider string, localOnly bool) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		if localOnly && !Models[i].Local {
			continue
		}
		return &Models[i]
	}
	return nil
}
