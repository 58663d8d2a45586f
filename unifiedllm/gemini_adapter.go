package unifiedllm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiAdapter talks to the Gemini API through the genai SDK.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates an adapter. An empty apiKey falls back to
// GEMINI_API_KEY / GOOGLE_API_KEY as resolved by the SDK.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: create client", Cause: err}}
	}
	return &GeminiAdapter{client: client}, nil
}

// Name returns the provider identifier.
func (a *GeminiAdapter) Name() string { return "gemini" }

// Complete sends a blocking request and returns the full response.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, config := a.translateRequest(req)
	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, a.translateError(err)
	}
	if blocked := a.blocked(resp); blocked != nil {
		return nil, blocked
	}

	out := &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        req.Model,
		Provider:     a.Name(),
		Text:         candidateText(resp),
		FinishReason: "stop",
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		out.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.PromptTokenCount + u.CandidatesTokenCount),
		}
	}
	return out, nil
}

// Stream starts a streaming generation.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (Stream, error) {
	contents, config := a.translateRequest(req)

	return newChanStream(ctx, func(ctx context.Context, emit emitFunc) error {
		finish := "stop"
		var usage *Usage
		for resp, err := range a.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				return a.translateError(err)
			}
			if blocked := a.blocked(resp); blocked != nil {
				return blocked
			}
			if text := candidateText(resp); text != "" {
				if !emit(StreamEvent{Type: TextDelta, Delta: text}) {
					return nil
				}
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				finish = strings.ToLower(string(resp.Candidates[0].FinishReason))
			}
			if u := resp.UsageMetadata; u != nil {
				usage = &Usage{
					InputTokens:  int(u.PromptTokenCount),
					OutputTokens: int(u.CandidatesTokenCount),
					TotalTokens:  int(u.PromptTokenCount + u.CandidatesTokenCount),
				}
			}
		}
		emit(StreamEvent{Type: StreamFinish, FinishReason: finish, Usage: usage})
		return nil
	}), nil
}

func (a *GeminiAdapter) translateRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := SplitSystem(req.Messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	if len(req.StopSequences) > 0 {
		config.StopSequences = req.StopSequences
	}

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return contents, config
}

func (a *GeminiAdapter) blocked(resp *genai.GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "prompt blocked: " + string(resp.PromptFeedback.BlockReason)},
			Provider: a.Name(),
		}}
	}
	return nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// translateError maps genai errors. APIError does not expose headers, so
// Retry-After is unavailable.
func (a *GeminiAdapter) translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromSDKStatus(a.Name(), apiErr.Code, nil, err)
	}
	return classifyTransportError(a.Name(), err)
}
