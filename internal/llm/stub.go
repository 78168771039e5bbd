package llm

import (
	"context"
	"fmt"
	"sync"
)

// StubClient is a scripted Client for tests and dry runs. Replies are served
// per model in order; once a model's script is exhausted the fallback reply
// is returned.
type StubClient struct {
	mu       sync.Mutex
	scripts  map[string][]string
	next     map[string]int
	fallback string
	// Err, when set, is returned by every Invoke.
	Err error
	// Calls records every request received, in order.
	Calls []*Request
}

// NewStubClient creates a stub whose replies come from scripts keyed by
// model id.
func NewStubClient(scripts map[string][]string, fallback string) *StubClient {
	if fallback == "" {
		fallback = "Let us examine that assumption. What evidence supports it?"
	}
	return &StubClient{
		scripts:  scripts,
		next:     make(map[string]int),
		fallback: fallback,
	}
}

func (c *StubClient) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, req)
	if c.Err != nil {
		return nil, c.Err
	}

	text := c.fallback
	if script, ok := c.scripts[req.ModelID]; ok {
		i := c.next[req.ModelID]
		if i < len(script) {
			text = script[i]
			c.next[req.ModelID] = i + 1
		}
	}

	return &Result{
		Text:         text,
		LatencyMS:    1,
		InputTokens:  countApproxTokens(req),
		OutputTokens: len(text) / 4,
	}, nil
}

func countApproxTokens(req *Request) int {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	if n == 0 {
		return 1
	}
	return n / 4
}

// CallCount returns how many invocations the stub has served.
func (c *StubClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ Client = (*StubClient)(nil)

// ErrScripted builds a retryable provider error for failure-path tests.
func ErrScripted(provider string, status int) error {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    fmt.Sprintf("scripted %d", status),
		Type:       classifyErrorType(status, ""),
	}
}
