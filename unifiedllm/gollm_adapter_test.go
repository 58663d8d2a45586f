package unifiedllm

import (
	"context"
	"fmt"
	"testing"
)

func TestGollmAdapterName(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(provider, "test-key-not-real")
		if err != nil {
			t.Logf("skipping %s adapter creation (expected without real key): %v", provider, err)
			continue
		}
		if adapter.Name() != provider {
			t.Errorf("expected name %q, got %q", provider, adapter.Name())
		}
	}
}

func TestGollmAdapterRequiresModelForUnknownProvider(t *testing.T) {
	_, err := NewGollmAdapter("nonexistent", "")
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		errMsg string
		check  func(error) bool
	}{
		{"401 Unauthorized", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }},
		{"invalid api key", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }},
		{"403 Forbidden", func(e error) bool { _, ok := e.(*AccessDeniedError); return ok }},
		{"404 not found", func(e error) bool { _, ok := e.(*NotFoundError); return ok }},
		{"429 rate limit exceeded", func(e error) bool { _, ok := e.(*RateLimitError); return ok }},
		{"context length exceeded", func(e error) bool { _, ok := e.(*ContextLengthError); return ok }},
		{"500 internal server error", func(e error) bool { _, ok := e.(*ServerError); return ok }},
		{"timeout waiting for response", func(e error) bool { _, ok := e.(*RequestTimeoutError); return ok }},
		{"content filter triggered", func(e error) bool { _, ok := e.(*ContentFilterError); return ok }},
		{"something unknown", func(e error) bool { _, ok := e.(*ProviderError); return ok }},
	}

	for _, tt := range tests {
		err := adapter.translateError(errForMsg(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: unexpected error type %T", tt.errMsg, err)
		}
	}
}

func TestGollmAdapterTranslateCancellation(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}
	err := adapter.translateError(fmt.Errorf("stream: %w", context.Canceled))
	if _, ok := err.(*AbortError); !ok {
		t.Errorf("expected AbortError, got %T", err)
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestGollmAdapterBuildResponse(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4.1-mini"}
	resp := adapter.buildResponse(Request{Messages: []Message{UserMessage("hi")}}, "hello there")
	if resp.Text != "hello there" {
		t.Errorf("expected text %q, got %q", "hello there", resp.Text)
	}
	if resp.Model != "gpt-4.1-mini" {
		t.Errorf("expected adapter default model, got %q", resp.Model)
	}
	if resp.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", resp.Provider)
	}
	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Errorf("inconsistent usage: %+v", resp.Usage)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{
		Messages: []Message{
			UserMessage("Hello world, this is a test message."),
		},
	}
	tokens := estimateTokens(req)
	if tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	req := Request{Messages: []Message{}}
	tokens := estimateTokens(req)
	if tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
