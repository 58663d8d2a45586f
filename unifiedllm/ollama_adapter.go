package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultOllamaURL is where a local Ollama server listens by default.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaAdapter talks to a local Ollama server over its native NDJSON chat API.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaAdapter creates an adapter for the Ollama server at baseURL.
func NewOllamaAdapter(baseURL string, timeout time.Duration) *OllamaAdapter {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute // large local models load slowly
	}
	return &OllamaAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Name returns the provider identifier.
func (a *OllamaAdapter) Name() string { return "ollama" }

// Complete sends a blocking request and returns the full response.
func (a *OllamaAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	stream, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := Collect(ctx, stream)
	if err != nil {
		return nil, err
	}
	resp.ID = "resp_" + uuid.New().String()[:8]
	resp.Model = req.Model
	resp.Provider = a.Name()
	return resp, nil
}

// Stream posts a streaming chat request and decodes NDJSON chunks lazily.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request) (Stream, error) {
	body := ollamaChatRequest{
		Model:  req.Model,
		Stream: true,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Temperature != nil || req.MaxTokens != nil || len(req.StopSequences) > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, Stop: req.StopSequences}
		if req.MaxTokens != nil {
			body.Options.NumPredict = *req.MaxTokens
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// The request lives as long as the stream, so it gets the stream's context.
	return newChanStream(ctx, func(ctx context.Context, emit emitFunc) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return classifyTransportError(a.Name(), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return ErrorFromStatusCode(resp.StatusCode, ollamaErrorMessage(msg), a.Name(), nil)
		}

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChatChunk
			if err := decoder.Decode(&chunk); err != nil {
				if err == io.EOF {
					return &StreamError{SDKError: SDKError{Message: "ollama: stream ended without done"}}
				}
				if classified := classifyTransportError(a.Name(), err); classified != err {
					return classified
				}
				return &StreamError{SDKError: SDKError{Message: "ollama: decode stream chunk", Cause: err}}
			}
			if chunk.Error != "" {
				return &ServerError{ProviderError: ProviderError{
					SDKError: SDKError{Message: chunk.Error}, Provider: a.Name(), Retryable: true,
				}}
			}
			if chunk.Message.Content != "" {
				if !emit(StreamEvent{Type: TextDelta, Delta: chunk.Message.Content}) {
					return nil
				}
			}
			if chunk.Done {
				reason := chunk.DoneReason
				if reason == "" {
					reason = "stop"
				}
				usage := Usage{
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
					TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
				}
				emit(StreamEvent{Type: StreamFinish, FinishReason: reason, Usage: &usage})
				return nil
			}
		}
	}), nil
}

// Ping checks that the server is reachable.
func (a *OllamaAdapter) Ping(ctx context.Context) error {
	resp, err := a.get(ctx, "/api/tags")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListModels returns the names of models installed on the server.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	resp, err := a.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

func (a *OllamaAdapter) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(a.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, ErrorFromStatusCode(resp.StatusCode, ollamaErrorMessage(msg), a.Name(), nil)
	}
	return resp, nil
}

// ollamaErrorMessage extracts {"error": "..."} bodies, falling back to raw text.
func ollamaErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
