// Package llm defines the Invoker interface for Large Language Model backends.
//
// An LLM invoker wraps a remote or local model API (e.g., a local Ollama
// instance, OpenAI, or Anthropic) behind a single prompt-to-completion call.
// The model is selected per request rather than per client so that the server
// can switch models between pipeline runs without rebuilding any state;
// temporary setting overrides take effect on the very next invocation.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Request carries everything the LLM needs to produce a completion.
type Request struct {
	// Model is the backend-specific model identifier (e.g., "llama3.2",
	// "gpt-4o"). Must not be empty; invokers return an error otherwise.
	Model string

	// Prompt is the fully composed user prompt. Pipelines substitute the
	// transcript corpus into the prompt template before building a Request.
	Prompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the backend default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the
	// backend default.
	MaxTokens int
}

// Response is the full (non-streaming) completion result.
type Response struct {
	// Content is the text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Invoker is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Complete blocks until the model has produced the full response or ctx is
// cancelled; there is no forced timeout because local models can legitimately
// be slow. Callers that need a deadline attach one to ctx.
type Invoker interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
