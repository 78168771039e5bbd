package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestHTTPClient_InvokeAnthropic(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "Why do you assume that?"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 12, "output_tokens": 6},
		})
	}))
	defer server.Close()

	client, err := NewClient(map[string]ProviderConfig{
		ProviderAnthropic: {APIKey: "test-key", Endpoint: server.URL},
	}, fastRetry(2), nil)
	require.NoError(t, err)

	result, err := client.Invoke(context.Background(), &Request{
		ModelID:  "anthropic.claude-3-5-haiku",
		Provider: ProviderAnthropic,
		System:   "You are a Socratic tutor.",
		Messages: []Message{{Role: RoleUser, Content: "Explain CRISPR."}},

		MaxTokens:   200,
		Temperature: 0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, "Why do you assume that?", result.Text)
	assert.Equal(t, 12, result.InputTokens)
	assert.Equal(t, 6, result.OutputTokens)
	assert.GreaterOrEqual(t, result.LatencyMS, int64(0))

	// Provider prefix is stripped and the system prompt rides outside the
	// message list.
	assert.Equal(t, "claude-3-5-haiku", gotBody["model"])
	assert.Equal(t, "You are a Socratic tutor.", gotBody["system"])
}

func TestHTTPClient_InvokeOpenAI(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"content": "What would falsify that claim?"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 20, "completion_tokens": 8},
		})
	}))
	defer server.Close()

	client, err := NewClient(map[string]ProviderConfig{
		ProviderOpenAI: {APIKey: "test-key", Endpoint: server.URL},
	}, fastRetry(2), nil)
	require.NoError(t, err)

	result, err := client.Invoke(context.Background(), &Request{
		ModelID:  "openai.gpt-4o-mini",
		Provider: ProviderOpenAI,
		System:   "You are a Socratic tutor.",
		Messages: []Message{{Role: RoleUser, Content: "Explain entropy."}},

		MaxTokens:   200,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "What would falsify that claim?", result.Text)

	// OpenAI carries the system prompt as the first message.
	msgs := gotBody["messages"].([]any)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer server.Close()

	client, err := NewClient(map[string]ProviderConfig{
		ProviderAnthropic: {APIKey: "k", Endpoint: server.URL},
	}, fastRetry(4), nil)
	require.NoError(t, err)

	result, err := client.Invoke(context.Background(), &Request{
		ModelID:  "anthropic.claude-3-5-haiku",
		Provider: ProviderAnthropic,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RetriesSlowRequest(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Outlive the client's per-request timeout.
			<-release
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(map[string]ProviderConfig{
		ProviderAnthropic: {APIKey: "k", Endpoint: server.URL},
	}, fastRetry(3), nil)
	require.NoError(t, err)
	client.httpc.Timeout = 50 * time.Millisecond

	// A hung request times out and must be retried, not treated as fatal.
	result, err := client.Invoke(context.Background(), &Request{
		ModelID:  "anthropic.claude-3-5-haiku",
		Provider: ProviderAnthropic,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_CallerDeadlineStopsRetries(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(map[string]ProviderConfig{
		ProviderAnthropic: {APIKey: "k", Endpoint: server.URL},
	}, fastRetry(4), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Invoke(ctx, &Request{
		ModelID:  "anthropic.claude-3-5-haiku",
		Provider: ProviderAnthropic,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_FatalErrorsDoNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "authentication_error", "message": "bad key"},
		})
	}))
	defer server.Close()

	client, err := NewClient(map[string]ProviderConfig{
		ProviderAnthropic: {APIKey: "bad", Endpoint: server.URL},
	}, fastRetry(4), nil)
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), &Request{
		ModelID:  "anthropic.claude-3-5-haiku",
		Provider: ProviderAnthropic,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrorTypeAuth, perr.Type)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(map[string]ProviderConfig{
		ProviderOpenAI: {APIKey: "k", Endpoint: server.URL},
	}, fastRetry(2), nil)
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), &Request{
		ModelID:  "openai.gpt-4o-mini",
		Provider: ProviderOpenAI,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestHTTPClient_UnknownProvider(t *testing.T) {
	client, err := NewClient(map[string]ProviderConfig{}, fastRetry(1), nil)
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), &Request{
		ModelID:  "google.gemini-pro",
		Provider: "google",
	})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestStubClient_ScriptedReplies(t *testing.T) {
	stub := NewStubClient(map[string][]string{
		"openai.gpt-4o-mini": {"first?", "second?"},
	}, "fallback?")

	ctx := context.Background()
	req := &Request{ModelID: "openai.gpt-4o-mini", Provider: ProviderOpenAI,
		Messages: []Message{{Role: RoleUser, Content: "hi"}}}

	for _, want := range []string{"first?", "second?", "fallback?"} {
		result, err := stub.Invoke(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, want, result.Text)
	}
	assert.Equal(t, 3, stub.CallCount())
}
