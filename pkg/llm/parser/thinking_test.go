package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(t *testing.T, chunks []string) (thinking, message string, p *ThinkingParser) {
	t.Helper()
	p = NewThinkingParser()
	var tb, mb strings.Builder
	for _, chunk := range chunks {
		th, msg := p.Parse(chunk)
		if th != nil {
			tb.WriteString(th.Content)
		}
		if msg != nil {
			mb.WriteString(msg.Content)
		}
	}
	th, msg := p.Flush()
	if th != nil {
		tb.WriteString(th.Content)
	}
	if msg != nil {
		mb.WriteString(msg.Content)
	}
	return tb.String(), mb.String(), p
}

func TestThinkingParserComparisonOperators(t *testing.T) {
	thinking, message, p := collect(t, []string{
		"<thinking>",
		"The list has i<10 items\n",
		"and the counter is x>3\n",
		"</thinking>",
		"\n\n<tool>test</tool>",
	})

	assert.False(t, p.IsInThinking())
	assert.Contains(t, thinking, "i<10")
	assert.Contains(t, thinking, "x>3")
	assert.Contains(t, message, "<tool>test</tool>")
	assert.NotContains(t, thinking, "<tool>")
}

func TestThinkingParserTagSplitAcrossChunks(t *testing.T) {
	thinking, message, p := collect(t, []string{
		"<thin", "king>plan the click</th", "inking>", "<tool>x</tool>",
	})

	assert.False(t, p.IsInThinking())
	assert.Equal(t, "plan the click", thinking)
	assert.Equal(t, "<tool>x</tool>", message)
}

func TestThinkingParserLessThanAtChunkEnd(t *testing.T) {
	thinking, message, p := collect(t, []string{"<thinking>", "Code: x <", " 5", "</thinking>", "Done"})

	assert.False(t, p.IsInThinking())
	assert.Equal(t, "Code: x < 5", thinking)
	assert.Equal(t, "Done", message)
}

func TestThinkingParserUnterminated(t *testing.T) {
	thinking, message, p := collect(t, []string{"<thinking>still going <thi"})

	assert.True(t, p.IsInThinking())
	assert.Equal(t, "still going <thi", thinking)
	assert.Empty(t, message)

	p.Reset()
	assert.False(t, p.IsInThinking())
}

func TestSplit(t *testing.T) {
	thinking, message := Split("<thinking>\nfind the login form\n</thinking>\n<tool><tool_name>click_element</tool_name></tool>")
	assert.Equal(t, "find the login form", thinking)
	assert.Equal(t, "<tool><tool_name>click_element</tool_name></tool>", message)

	thinking, message = Split("no reasoning here")
	assert.Empty(t, thinking)
	assert.Equal(t, "no reasoning here", message)
}
