// Package llm invokes chat models across providers behind a single Client
// interface. Each provider implements an Adapter that builds and parses its
// own HTTP format; the client layered on top adds retry with exponential
// backoff for transient failures and normalizes errors for classification.
package llm

import "context"

// Chat message roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a chat transcript.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	// ModelID is the provider-qualified model identifier, e.g.
	// "anthropic.claude-3-5-haiku". Adapters strip the provider prefix
	// before talking to the API.
	ModelID string
	// Provider selects the adapter: "openai" or "anthropic".
	Provider string
	// System is the system prompt, optional.
	System string
	// Messages is the conversation so far, oldest first. The last message
	// must have RoleUser.
	Messages []Message

	MaxTokens   int
	Temperature float64
}

// Result is a normalized completion.
type Result struct {
	Text         string
	LatencyMS    int64
	InputTokens  int
	OutputTokens int
}

// Client invokes a chat model and returns its reply.
type Client interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
}
