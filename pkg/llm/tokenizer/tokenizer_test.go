package tokenizer

import (
	"testing"

	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/stretchr/testify/assert"
)

// mustNewTokenizer creates a tokenizer or skips the test if the encoding
// cannot be loaded (it is fetched on first use).
func mustNewTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := New()
	if err != nil {
		t.Skipf("Tokenizer initialization failed, skipping test: %v", err)
	}
	return tok
}

func TestCountTokens(t *testing.T) {
	tok := mustNewTokenizer(t)

	assert.Zero(t, tok.CountTokens(""))
	assert.Greater(t, tok.CountTokens("click the login button"), 0)
	assert.Greater(t, tok.CountTokens("click the login button and wait for the dashboard"), tok.CountTokens("click"))
}

func TestEstimateUsage(t *testing.T) {
	tok := mustNewTokenizer(t)

	messages := []llm.Message{
		llm.SystemMessage("You drive a browser."),
		llm.UserMessage("Open example.com"),
	}
	usage := tok.EstimateUsage(messages, "<tool><tool_name>navigate</tool_name></tool>")

	assert.True(t, usage.Estimated)
	assert.Equal(t, tok.CountMessagesTokens(messages), usage.PromptTokens)
	assert.Greater(t, usage.CompletionTokens, 0)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
	assert.Zero(t, usage.CachedTokens)
}

func TestForModelFallsBack(t *testing.T) {
	mustNewTokenizer(t)

	tok, err := ForModel("some-local-model")
	assert.NoError(t, err)
	assert.Greater(t, tok.CountTokens("hello"), 0)
}
