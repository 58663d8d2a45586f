package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "ollama", "openai").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream starts a generation and returns a pull-based fragment stream.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a lazy, ordered sequence of generation events. Next blocks until
// the next event is available, the stream ends (io.EOF), or ctx is done.
// Close aborts the underlying request; no events are delivered afterwards.
type Stream interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// Optional adapter capabilities.

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// Pinger is implemented by adapters that can check backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelLister is implemented by adapters that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}
