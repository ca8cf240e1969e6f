// Package openai provides an OpenAI-compatible llm.Client.
//
// Example usage:
//
//	client, err := openai.NewClient(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	completion, err := client.Invoke(ctx, []llm.Message{llm.UserMessage("Hello!")}, nil)
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/entrhq/browseruse/pkg/llm/parser"
	"github.com/entrhq/browseruse/pkg/llm/tokenizer"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/openai/openai-go"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when WithModel is not given.
	DefaultModel = "gpt-4o"
)

var logger = logging.MustLogger("llm.openai")

// Client implements llm.Client for OpenAI-compatible chat completion APIs.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature *float64
	maxTokens   int
	maxRetries  int
	backoff     time.Duration
	tokenizer   *tokenizer.Tokenizer
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithModel sets the model to use for completions.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *Client) { c.temperature = &t }
}

// WithMaxTokens caps the completion length. Zero leaves it to the API.
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) { c.maxTokens = n }
}

// WithRetries sets how many times a retryable failure is retried and the
// initial backoff, which doubles per attempt.
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
		c.backoff = backoff
	}
}

// WithTokenizer enables local usage estimation for responses that carry no
// usage block.
func WithTokenizer(tok *tokenizer.Tokenizer) ClientOption {
	return func(c *Client) { c.tokenizer = tok }
}

// NewClient creates a new OpenAI client with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY environment variable.
// If the base URL is not provided via WithBaseURL, OPENAI_BASE_URL is used when set.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	c := &Client{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			c.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	return c, nil
}

// CloneWithModel returns a shallow copy of c configured to use the given model.
// It implements llm.ModelCloner.
func (c *Client) CloneWithModel(model string) llm.Client {
	clone := *c
	clone.model = model
	return &clone
}

// Model returns the model name being used.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the base URL being used.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-200 response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying: rate limits,
// timeouts and server errors.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// Invoke sends messages and assembles the streamed response. Retryable
// failures that happen before any content arrives are retried with backoff.
func (c *Client) Invoke(ctx context.Context, messages []llm.Message, format *llm.OutputFormat) (*llm.Completion, error) {
	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warnf("retrying %s after %v (attempt %d): %v", c.model, delay, attempt, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		completion, err := c.invokeOnce(ctx, messages, format)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) invokeOnce(ctx context.Context, messages []llm.Message, format *llm.OutputFormat) (*llm.Completion, error) {
	stream, err := c.StreamCompletion(ctx, messages, format)
	if err != nil {
		return nil, err
	}

	var content, thinking strings.Builder
	var usage *llm.Usage
	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		switch chunk.Type {
		case llm.ContentTypeThinking:
			thinking.WriteString(chunk.Content)
		case llm.ContentTypeMessage:
			content.WriteString(chunk.Content)
		}
	}

	completion := &llm.Completion{
		Content:  strings.TrimSpace(content.String()),
		Thinking: strings.TrimSpace(thinking.String()),
		Usage:    usage,
	}
	if completion.Usage == nil && c.tokenizer != nil {
		completion.Usage = c.tokenizer.EstimateUsage(messages, content.String()+thinking.String())
	}
	return completion, nil
}

// StreamCompletion sends messages to the API and streams back response chunks.
// The channel is closed when streaming completes or an error occurs.
//
// This implementation uses raw HTTP streaming to handle SSE events directly,
// which provides better compatibility with OpenAI-compatible APIs that may
// include SSE comments or have slight format variations.
func (c *Client) StreamCompletion(ctx context.Context, messages []llm.Message, format *llm.OutputFormat) (<-chan *llm.StreamChunk, error) {
	resp, err := c.sendStreamRequest(ctx, messages, format)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go c.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

func (c *Client) requestBody(messages []llm.Message, format *llm.OutputFormat) map[string]any {
	body := map[string]any{
		"model":    c.model,
		"messages": convertToOpenAIMessages(messages),
		"stream":   true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}
	if c.temperature != nil {
		body["temperature"] = *c.temperature
	}
	if c.maxTokens > 0 {
		body["max_tokens"] = c.maxTokens
	}
	if format != nil {
		name := format.Name
		if name == "" {
			name = "response"
		}
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"schema": format.Schema,
				"strict": format.Strict,
			},
		}
	}
	return body
}

// sendStreamRequest creates and sends the HTTP request for streaming
func (c *Client) sendStreamRequest(ctx context.Context, messages []llm.Message, format *llm.OutputFormat) (*http.Response, error) {
	bodyBytes, err := json.Marshal(c.requestBody(messages, format))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}

// processStreamResponse processes the SSE stream and sends chunks to the channel
func (c *Client) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	thinkingParser := parser.NewThinkingParser()

	for scanner.Scan() {
		line := scanner.Text()
		if !isDataLine(line) {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		if !c.processSSEChunk(ctx, data, thinkingParser, chunks) {
			return
		}
	}

	thinking, message := thinkingParser.Flush()
	if !send(ctx, thinking, chunks) || !send(ctx, message, chunks) {
		return
	}

	if err := scanner.Err(); err != nil {
		chunks <- &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}
		return
	}
	send(ctx, &llm.StreamChunk{Finished: true}, chunks)
}

// isDataLine checks if a line is a valid SSE data line
func isDataLine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data: ")
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openai.CompletionUsage `json:"usage"`
}

// processSSEChunk processes a single SSE data chunk
func (c *Client) processSSEChunk(ctx context.Context, data string, thinkingParser *parser.ThinkingParser, chunks chan<- *llm.StreamChunk) bool {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return true // Skip malformed chunks silently
	}

	if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
		if !send(ctx, &llm.StreamChunk{Usage: convertUsage(chunk.Usage)}, chunks) {
			return false
		}
	}

	if len(chunk.Choices) == 0 {
		return true
	}

	delta := chunk.Choices[0].Delta
	if delta.Content == "" {
		return true
	}

	thinking, message := thinkingParser.Parse(delta.Content)
	for _, out := range []*llm.StreamChunk{thinking, message} {
		if out == nil {
			continue
		}
		out.Role = delta.Role
		if !send(ctx, out, chunks) {
			return false
		}
	}
	return true
}

// send delivers chunk unless ctx is done. A nil chunk is skipped.
func send(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	if chunk == nil {
		return true
	}
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		chunks <- &llm.StreamChunk{Error: ctx.Err()}
		return false
	}
}

func convertUsage(u *openai.CompletionUsage) *llm.Usage {
	return &llm.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		CachedTokens:     int(u.PromptTokensDetails.CachedTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

// convertToOpenAIMessages converts llm messages to OpenAI's ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}

	return out
}
