// Package parser separates reasoning sections from message text in LLM output.
package parser

import (
	"strings"

	"github.com/entrhq/browseruse/pkg/llm"
)

const (
	openTag  = "<thinking>"
	closeTag = "</thinking>"
)

// ThinkingParser splits streamed content into <thinking> text and message
// text. Tags may be split across chunks; a partial tag is held back until
// the next chunk decides it.
type ThinkingParser struct {
	pending    string
	inThinking bool
}

// NewThinkingParser creates a new thinking parser.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse consumes one chunk and returns the thinking and message text it
// completed. Either result is nil when the chunk produced none of it.
func (p *ThinkingParser) Parse(content string) (thinkingChunk, messageChunk *llm.StreamChunk) {
	p.pending += content
	var thinking, message strings.Builder

	emit := func(text string) {
		if p.inThinking {
			thinking.WriteString(text)
		} else {
			message.WriteString(text)
		}
	}

	for p.pending != "" {
		i := strings.IndexByte(p.pending, '<')
		if i < 0 {
			emit(p.pending)
			p.pending = ""
			break
		}
		emit(p.pending[:i])
		rest := p.pending[i:]

		switch {
		case strings.HasPrefix(rest, openTag):
			p.inThinking = true
			p.pending = rest[len(openTag):]
		case strings.HasPrefix(rest, closeTag):
			p.inThinking = false
			p.pending = rest[len(closeTag):]
		case strings.HasPrefix(openTag, rest) || strings.HasPrefix(closeTag, rest):
			// Possibly the start of a tag; wait for more input.
			p.pending = rest
			return toChunks(thinking.String(), message.String())
		default:
			emit("<")
			p.pending = rest[1:]
		}
	}

	return toChunks(thinking.String(), message.String())
}

// Flush returns any held-back text. Call it once the stream has ended.
func (p *ThinkingParser) Flush() (thinkingChunk, messageChunk *llm.StreamChunk) {
	text := p.pending
	p.pending = ""
	if p.inThinking {
		return toChunks(text, "")
	}
	return toChunks("", text)
}

// IsInThinking returns true if currently parsing thinking content.
func (p *ThinkingParser) IsInThinking() bool {
	return p.inThinking
}

// Reset resets the parser state for a new stream.
func (p *ThinkingParser) Reset() {
	p.pending = ""
	p.inThinking = false
}

// Split separates a complete response into its thinking and message text.
func Split(content string) (thinking, message string) {
	p := NewThinkingParser()
	var tb, mb strings.Builder
	collect := func(t, m *llm.StreamChunk) {
		if t != nil {
			tb.WriteString(t.Content)
		}
		if m != nil {
			mb.WriteString(m.Content)
		}
	}
	collect(p.Parse(content))
	collect(p.Flush())
	return strings.TrimSpace(tb.String()), strings.TrimSpace(mb.String())
}

func toChunks(thinking, message string) (*llm.StreamChunk, *llm.StreamChunk) {
	var t, m *llm.StreamChunk
	if thinking != "" {
		t = &llm.StreamChunk{Type: llm.ContentTypeThinking, Content: thinking}
	}
	if message != "" {
		m = &llm.StreamChunk{Type: llm.ContentTypeMessage, Content: message}
	}
	return t, m
}
