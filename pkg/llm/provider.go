// Package llm defines the language model boundary used by the agent loop.
//
// Every provider is consumed through Client.Invoke, which returns the
// assembled completion together with the token usage the provider reported:
//
//	client, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), openai.WithModel("gpt-4o"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	completion, err := client.Invoke(ctx, []llm.Message{
//	    llm.SystemMessage("You drive a browser."),
//	    llm.UserMessage("Open example.com"),
//	}, nil)
//
// Retries, backoff and authentication belong to the provider, not to callers.
package llm

import (
	"context"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    Role
	Content string
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage creates a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// OutputFormat asks the provider for structured output matching Schema.
type OutputFormat struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// Usage reports token consumption for one invocation. Providers that report
// nothing leave it nil; CachedTokens is zero when caching is unsupported.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	TotalTokens      int

	// Estimated is set when the counts come from a local tokenizer rather
	// than the provider.
	Estimated bool
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CachedTokens += other.CachedTokens
	u.TotalTokens += other.TotalTokens
	u.Estimated = u.Estimated || other.Estimated
}

// Completion is the assembled response of one invocation.
type Completion struct {
	// Content is the message text with <thinking> sections removed.
	Content string

	// Thinking holds the text of any <thinking> sections.
	Thinking string

	Usage *Usage
}

// Client is the uniform contract every provider implements.
type Client interface {
	// Invoke sends messages and returns the full completion. format is
	// optional. Cancelling ctx aborts the request.
	Invoke(ctx context.Context, messages []Message, format *OutputFormat) (*Completion, error)

	// Model returns the model name requests are sent to.
	Model() string
}

// ModelCloner is an optional interface for clients that can direct calls to
// another model while sharing credentials and transport.
type ModelCloner interface {
	CloneWithModel(model string) Client
}

// WithModel returns a client for model, cloning c when it supports it and
// returning c unchanged otherwise.
func WithModel(c Client, model string) Client {
	if model == "" || model == c.Model() {
		return c
	}
	if cloner, ok := c.(ModelCloner); ok {
		return cloner.CloneWithModel(model)
	}
	return c
}
