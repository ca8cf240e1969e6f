package llm

// ContentType distinguishes reasoning text from message text in a stream.
type ContentType string

const (
	ContentTypeThinking ContentType = "thinking"
	ContentTypeMessage  ContentType = "message"
)

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Type     ContentType
	Content  string
	Role     string
	Finished bool
	Usage    *Usage
	Error    error
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}
