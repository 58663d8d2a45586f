package unifiedllm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens is used when a request sets no limit; the
// Messages API requires one.
const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter talks to the Anthropic Messages API.
type AnthropicAdapter struct {
	client *anthropic.Client
}

// NewAnthropicAdapter creates an adapter. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicAdapter(apiKey, baseURL string) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicAdapter{client: &client}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends a blocking request and returns the full response.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return nil, a.translateError(err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Provider:     a.Name(),
		Text:         sb.String(),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream starts a streaming message.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (Stream, error) {
	params := a.params(req)

	return newChanStream(ctx, func(ctx context.Context, emit emitFunc) error {
		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				return &StreamError{SDKError: SDKError{Message: "anthropic: accumulate event", Cause: err}}
			}
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta()
			if textDelta := delta.Delta.AsTextDelta(); textDelta.Type == "text_delta" && textDelta.Text != "" {
				if !emit(StreamEvent{Type: TextDelta, Delta: textDelta.Text}) {
					return nil
				}
			}
		}
		if err := stream.Err(); err != nil {
			return a.translateError(err)
		}

		reason := string(acc.StopReason)
		if reason == "" {
			reason = "stop"
		}
		emit(StreamEvent{Type: StreamFinish, FinishReason: reason, Usage: &Usage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
			TotalTokens:  int(acc.Usage.InputTokens + acc.Usage.OutputTokens),
		}})
		return nil
	}), nil
}

func (a *AnthropicAdapter) params(req Request) anthropic.MessageNewParams {
	system, rest := SplitSystem(req.Messages)

	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  convertAnthropicMessages(rest),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	return params
}

// convertAnthropicMessages maps the conversation onto Anthropic's strictly
// alternating user/assistant turns, merging consecutive same-role messages.
func convertAnthropicMessages(messages []Message) []anthropic.MessageParam {
	type merged struct {
		role Role
		text string
	}
	var turns []merged
	for _, m := range messages {
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text += "\n\n" + m.Content
			continue
		}
		turns = append(turns, merged{role: role, text: m.Content})
	}

	result := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.text)
		if t.role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

func (a *AnthropicAdapter) translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fromSDKStatus(a.Name(), apiErr.StatusCode, apiErr.Response, err)
	}
	return classifyTransportError(a.Name(), err)
}
