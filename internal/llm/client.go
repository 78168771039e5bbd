package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Supported provider identifiers. These match the provider field carried on
// run specs and job payloads.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	APIKey   string
	Endpoint string
	// Headers are extra headers applied to every request, e.g. for proxies.
	Headers map[string]string
}

// Adapter abstracts one provider's HTTP format.
type Adapter interface {
	// Build constructs the provider-specific HTTP request.
	Build(ctx context.Context, req *Request) (*http.Request, error)
	// Parse extracts a normalized Result, or a classified error.
	Parse(httpResp *http.Response) (*Result, error)
	// Name returns the canonical provider identifier.
	Name() string
}

// HTTPClient is the production Client. It routes requests to the adapter for
// the request's provider and retries transient failures with exponential
// backoff and full jitter.
type HTTPClient struct {
	httpc    *http.Client
	adapters map[string]Adapter
	retry    RetryConfig
	logger   *slog.Logger
}

// NewClient builds an HTTPClient with adapters for every configured
// provider. Providers without an entry in configs are rejected at Invoke
// time with ErrUnknownProvider.
func NewClient(configs map[string]ProviderConfig, retry RetryConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	adapters := make(map[string]Adapter, len(configs))
	for name, cfg := range configs {
		switch name {
		case ProviderOpenAI:
			adapters[name] = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapters[name] = NewAnthropicAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
	}

	return &HTTPClient{
		httpc:    &http.Client{Timeout: 60 * time.Second},
		adapters: adapters,
		retry:    retry,
		logger:   logger,
	}, nil
}

func (c *HTTPClient) Invoke(ctx context.Context, req *Request) (*Result, error) {
	adapter, ok := c.adapters[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffFor(attempt-1, lastErr)
			c.logger.Debug("retrying model invocation",
				"provider", req.Provider,
				"model", req.ModelID,
				"attempt", attempt,
				"delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.attempt(ctx, adapter, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		c.logger.Warn("transient model invocation failure",
			"provider", req.Provider,
			"model", req.ModelID,
			"attempt", attempt,
			"error", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

func (c *HTTPClient) attempt(ctx context.Context, adapter Adapter, req *Request) (*Result, error) {
	httpReq, err := adapter.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", adapter.Name(), err)
	}
	defer httpResp.Body.Close()

	result, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	result.LatencyMS = time.Since(start).Milliseconds()
	return result, nil
}

// backoffFor honors provider Retry-After guidance before falling back to
// exponential backoff.
func (c *HTTPClient) backoffFor(retries int, err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if d := pe.RetryDelay(); d > 0 && d <= c.retry.MaxInterval {
			return d
		}
	}
	return Backoff(retries, c.retry)
}

// stripProviderPrefix turns "anthropic.claude-3-5-haiku" into
// "claude-3-5-haiku". Model ids without a prefix pass through unchanged.
func stripProviderPrefix(modelID string) string {
	if _, rest, ok := strings.Cut(modelID, "."); ok {
		return rest
	}
	return modelID
}
