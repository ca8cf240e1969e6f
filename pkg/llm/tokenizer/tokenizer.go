// Package tokenizer counts tokens locally so usage can be estimated for
// providers that do not report it.
package tokenizer

import (
	"fmt"

	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when the model has no known encoding.
const DefaultEncoding = "cl100k_base"

// per-message framing overhead of the chat format
const messageOverhead = 4

// Tokenizer counts tokens with a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New creates a tokenizer using the default encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// ForModel creates a tokenizer for model, falling back to the default
// encoding for unknown models.
func ForModel(model string) (*Tokenizer, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &Tokenizer{enc: enc}, nil
	}
	return New()
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the prompt size of messages including the
// chat framing overhead.
func (t *Tokenizer) CountMessagesTokens(messages []llm.Message) int {
	total := 3 // reply priming
	for _, msg := range messages {
		total += messageOverhead + t.CountTokens(string(msg.Role)) + t.CountTokens(msg.Content)
	}
	return total
}

// EstimateUsage builds a Usage for a request and its completion text.
func (t *Tokenizer) EstimateUsage(messages []llm.Message, completion string) *llm.Usage {
	prompt := t.CountMessagesTokens(messages)
	out := t.CountTokens(completion)
	return &llm.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}
