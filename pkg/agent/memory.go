package agent

import (
	"fmt"

	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/entrhq/browseruse/pkg/llm/tokenizer"
)

// conversation is the agent's message history. When it grows past its
// token budget the oldest messages are dropped and replaced by a marker,
// keeping the most recent exchange intact.
type conversation struct {
	messages  []llm.Message
	omitted   int
	tokenizer *tokenizer.Tokenizer
	maxTokens int
}

func newConversation(tok *tokenizer.Tokenizer, maxTokens int) *conversation {
	return &conversation{tokenizer: tok, maxTokens: maxTokens}
}

func (c *conversation) Add(msg llm.Message) {
	c.messages = append(c.messages, msg)
	c.trim()
}

// GetAll returns the history, led by an omission marker when messages
// have been dropped.
func (c *conversation) GetAll() []llm.Message {
	out := make([]llm.Message, 0, len(c.messages)+1)
	if c.omitted > 0 {
		out = append(out, llm.UserMessage(fmt.Sprintf("[%d earlier messages omitted]", c.omitted)))
	}
	return append(out, c.messages...)
}

func (c *conversation) Len() int { return len(c.messages) }

func (c *conversation) trim() {
	if c.maxTokens <= 0 {
		return
	}
	for len(c.messages) > 2 && c.tokens() > c.maxTokens {
		c.messages = c.messages[1:]
		c.omitted++
	}
}

func (c *conversation) tokens() int {
	if c.tokenizer != nil {
		return c.tokenizer.CountMessagesTokens(c.messages)
	}
	// Roughly four characters per token for English text.
	total := 0
	for _, m := range c.messages {
		total += len(m.Content)/4 + 4
	}
	return total
}
