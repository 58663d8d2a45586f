package unifiedllm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedResponse configures one model turn in a scripted sequence.
type ScriptedResponse struct {
	Text string
	// Err fails the request before any fragment is produced.
	Err error
	// StreamErr fails the stream after all fragments were delivered.
	StreamErr error
}

// ScriptedAdapter is a deterministic adapter that replays canned responses,
// split into fragments of a fixed size. It backs transcript replay and tests.
type ScriptedAdapter struct {
	mu           sync.Mutex
	name         string
	index        int
	responses    []ScriptedResponse
	fragmentSize int
	repeatLast   bool
	requests     []Request
}

// NewScriptedAdapter creates an adapter that returns responses in order.
func NewScriptedAdapter(responses ...ScriptedResponse) *ScriptedAdapter {
	cloned := make([]ScriptedResponse, len(responses))
	copy(cloned, responses)
	return &ScriptedAdapter{
		name:      "scripted",
		responses: cloned,
	}
}

// ScriptedTexts is shorthand for a script of successful text responses.
func ScriptedTexts(texts ...string) *ScriptedAdapter {
	responses := make([]ScriptedResponse, len(texts))
	for i, t := range texts {
		responses[i] = ScriptedResponse{Text: t}
	}
	return NewScriptedAdapter(responses...)
}

// WithFragmentSize splits each response into fragments of n characters.
// Zero delivers each response as a single fragment.
func (a *ScriptedAdapter) WithFragmentSize(n int) *ScriptedAdapter {
	a.fragmentSize = n
	return a
}

// RepeatLast keeps returning the final response once the script is exhausted.
func (a *ScriptedAdapter) RepeatLast() *ScriptedAdapter {
	a.repeatLast = true
	return a
}

// Requests returns the requests received so far.
func (a *ScriptedAdapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Name returns the provider identifier.
func (a *ScriptedAdapter) Name() string { return a.name }

func (a *ScriptedAdapter) next(req Request) (ScriptedResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req)
	if a.index >= len(a.responses) {
		if a.repeatLast && len(a.responses) > 0 {
			return a.responses[len(a.responses)-1], nil
		}
		return ScriptedResponse{}, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: fmt.Sprintf("script exhausted at request %d", a.index+1)},
			Provider: a.name,
		}}
	}
	current := a.responses[a.index]
	a.index++
	return current, nil
}

// Complete returns the next scripted response.
func (a *ScriptedAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	current, err := a.next(req)
	if err != nil {
		return nil, err
	}
	if current.Err != nil {
		return nil, current.Err
	}
	if current.StreamErr != nil {
		return nil, current.StreamErr
	}
	return &Response{
		ID:           fmt.Sprintf("scripted_%d", len(a.Requests())),
		Model:        req.Model,
		Provider:     a.name,
		Text:         current.Text,
		FinishReason: "stop",
	}, nil
}

// Stream returns the next scripted response as a fragment stream.
func (a *ScriptedAdapter) Stream(ctx context.Context, req Request) (Stream, error) {
	current, err := a.next(req)
	if err != nil {
		return nil, err
	}
	if current.Err != nil {
		return nil, current.Err
	}
	fragments := Fragment(current.Text, a.fragmentSize)
	if current.StreamErr == nil {
		return NewSliceStream(fragments...), nil
	}
	return newChanStream(ctx, func(ctx context.Context, emit emitFunc) error {
		for _, f := range fragments {
			if !emit(StreamEvent{Type: TextDelta, Delta: f}) {
				return nil
			}
		}
		return current.StreamErr
	}), nil
}

// Fragment splits text into chunks of size runes. A size of zero or less
// returns the text as one fragment.
func Fragment(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || size >= len(runes) {
		return []string{text}
	}
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
