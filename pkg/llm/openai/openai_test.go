package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, lines []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func TestInvokeAssemblesStream(t *testing.T) {
	var body map[string]any
	server := sseServer(t, []string{
		": keep-alive",
		`data: {"choices":[{"delta":{"role":"assistant","content":"<thinking>open the "}}]}`,
		`data: {"choices":[{"delta":{"content":"page</thinking><tool><tool_name>navigate</tool_name>"}}]}`,
		`data: {"choices":[{"delta":{"content":"</tool>"},"finish_reason":"stop"}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150,"prompt_tokens_details":{"cached_tokens":64}}}`,
		"data: [DONE]",
	}, &body)
	defer server.Close()

	client, err := NewClient("test-key", WithBaseURL(server.URL), WithModel("gpt-test"), WithMaxTokens(512))
	require.NoError(t, err)

	completion, err := client.Invoke(context.Background(), []llm.Message{
		llm.SystemMessage("You drive a browser."),
		llm.UserMessage("go"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "<tool><tool_name>navigate</tool_name></tool>", completion.Content)
	assert.Equal(t, "open the page", completion.Thinking)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, 120, completion.Usage.PromptTokens)
	assert.Equal(t, 30, completion.Usage.CompletionTokens)
	assert.Equal(t, 64, completion.Usage.CachedTokens)
	assert.Equal(t, 150, completion.Usage.TotalTokens)
	assert.False(t, completion.Usage.Estimated)

	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.EqualValues(t, 512, body["max_tokens"])
	assert.Len(t, body["messages"], 2)
	assert.NotContains(t, body, "response_format")
}

func TestInvokeSendsOutputFormat(t *testing.T) {
	var body map[string]any
	server := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"{\"title\":\"Example\"}"}}]}`,
		"data: [DONE]",
	}, &body)
	defer server.Close()

	client, err := NewClient("test-key", WithBaseURL(server.URL))
	require.NoError(t, err)

	completion, err := client.Invoke(context.Background(), []llm.Message{llm.UserMessage("extract")}, &llm.OutputFormat{
		Name:   "page",
		Schema: map[string]any{"type": "object"},
		Strict: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Example"}`, completion.Content)
	assert.Nil(t, completion.Usage, "no usage reported and no tokenizer configured")

	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "page", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestInvokeRetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient("test-key", WithBaseURL(server.URL), WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	completion, err := client.Invoke(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewClient("test-key", WithBaseURL(server.URL), WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestCloneWithModel(t *testing.T) {
	client, err := NewClient("test-key", WithModel("gpt-4o"))
	require.NoError(t, err)

	extraction := llm.WithModel(client, "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", extraction.Model())
	assert.Equal(t, "gpt-4o", client.Model())
	assert.Same(t, client, llm.WithModel(client, ""))
}
