package unifiedllm

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter talks to the OpenAI chat completions API or to any server
// exposing the same API (llama.cpp server, LM Studio, vLLM) via base URL.
type OpenAIAdapter struct {
	name   string
	client *openai.Client
}

// NewOpenAIAdapter creates an adapter registered under name. An empty
// baseURL targets api.openai.com. Local servers usually accept any API key.
func NewOpenAIAdapter(name, apiKey, baseURL string) *OpenAIAdapter {
	if name == "" {
		name = "openai"
	}
	if apiKey == "" {
		apiKey = "not-needed"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // retries are handled by Retry
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIAdapter{name: name, client: &client}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return a.name }

// Complete sends a blocking request and returns the full response.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.client.Chat.Completions.New(ctx, a.params(req))
	if err != nil {
		return nil, a.translateError(err)
	}
	out := &Response{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.name,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if out.ID == "" {
		out.ID = "resp_" + uuid.New().String()[:8]
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// Stream starts a streaming chat completion.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (Stream, error) {
	params := a.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	return newChanStream(ctx, func(ctx context.Context, emit emitFunc) error {
		stream := a.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		finish := "stop"
		var usage *Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if r := string(chunk.Choices[0].FinishReason); r != "" {
				finish = r
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !emit(StreamEvent{Type: TextDelta, Delta: delta}) {
					return nil
				}
			}
		}
		if err := stream.Err(); err != nil {
			return a.translateError(err)
		}
		emit(StreamEvent{Type: StreamFinish, FinishReason: finish, Usage: usage})
		return nil
	}), nil
}

func (a *OpenAIAdapter) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	return params
}

func (a *OpenAIAdapter) translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fromSDKStatus(a.name, apiErr.StatusCode, apiErr.Response, err)
	}
	return classifyTransportError(a.name, err)
}
