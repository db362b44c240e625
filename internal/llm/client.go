// Package llm provides the Ollama chat client.
package llm

import "context"

// Client is the opaque model capability the executor invokes. The
// concrete implementation talks to an Ollama endpoint; tests substitute
// a fake.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// ListModels returns the models available on the backend.
	ListModels(ctx context.Context) ([]string, error)
}
