// Package unifiedllm presents interchangeable inference backends behind one
// provider-agnostic interface.
//
// # Architecture
//
// The package follows a three-layer architecture:
//
//   - Layer 1 (Provider Interface): ProviderAdapter, the pull-based
//     Stream, and shared plain-text message types
//   - Layer 2 (Provider Utilities): retry with backoff, error classification
//   - Layer 3 (Core Client): Client with provider routing and middleware
//
// # Streams
//
// A Stream is lazy: the consumer pulls fragments with Next and may stop at
// any point by calling Close, which aborts the underlying request.
//
//	stream, err := client.Stream(ctx, unifiedllm.Request{
//	    Model:    "gemma3:4b",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	defer stream.Close()
//	for {
//	    ev, err := stream.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// # Adapters
//
// OllamaAdapter speaks Ollama's native NDJSON API. OpenAIAdapter covers the
// OpenAI API and compatible local servers (llama.cpp, LM Studio).
// AnthropicAdapter and GeminiAdapter use the vendor SDKs, and GollmAdapter
// wraps github.com/teilomillet/gollm for any other provider it supports.
// ScriptedAdapter replays canned responses.
//
// # Model Catalog
//
// A built-in catalog of known models supplies context windows and defaults:
//
//	info := unifiedllm.GetModelInfo("gemma3:4b")
//	models := unifiedllm.ListModels("ollama")
//	def := unifiedllm.GetLatestModel("ollama", true)
package unifiedllm
