package tools

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	maxXMLSize       = 10 * 1024 * 1024 // 10MB limit for XML tool calls
	argumentsTagName = "arguments"
)

// ErrNoToolCall is returned when a response contains no <tool> block.
var ErrNoToolCall = errors.New("no tool call found in text")

// Compile regex once at package level for efficiency
var toolRegex = regexp.MustCompile(`(?s)<tool>.*?</tool>`)

// ampersandEntityRegex matches ampersands that are already part of XML entities
// to avoid double-escaping them. Matches: &amp; &lt; &gt; &quot; &apos; &#123; &#xAB;
var ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)

// ParseToolCall extracts the first tool call from a model response.
// Returns the parsed ToolCall and the remaining text after removing the tool call,
// or an error if parsing fails.
func ParseToolCall(text string) (*ToolCall, string, error) {
	if len(text) > maxXMLSize {
		return nil, text, fmt.Errorf("tool call XML exceeds maximum size of %d bytes", maxXMLSize)
	}

	match := toolRegex.FindString(text)
	if match == "" {
		return nil, text, ErrNoToolCall
	}
	toolXML := strings.TrimSpace(match)

	var toolCall ToolCall
	if err := UnmarshalXMLWithFallback([]byte(toolXML), &toolCall); err != nil {
		// Include XML snippet in error for better debugging
		snippet := toolXML
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, text, fmt.Errorf("failed to unmarshal tool call XML: %w\nXML snippet: %s", err, snippet)
	}

	toolCall.ToolName = strings.TrimSpace(toolCall.ToolName)
	if toolCall.ToolName == "" {
		return nil, text, fmt.Errorf("tool_name is required in tool call")
	}

	remainingText := strings.TrimSpace(strings.Replace(text, match, "", 1))
	return &toolCall, remainingText, nil
}

// ExtractThinkingAndToolCall separates the reasoning that precedes a tool
// call from the call itself. Without a tool call the whole text is returned
// as thinking and toolCall is nil.
func ExtractThinkingAndToolCall(text string) (thinking string, toolCall *ToolCall, remaining string, err error) {
	loc := toolRegex.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), nil, "", nil
	}

	thinking = strings.TrimSpace(text[:loc[0]])
	remaining = strings.TrimSpace(text[loc[1]:])

	toolCall, _, err = ParseToolCall(text[loc[0]:loc[1]])
	if err != nil {
		return thinking, nil, remaining, err
	}
	return thinking, toolCall, remaining, nil
}

// HasToolCall checks if the text contains a tool call.
func HasToolCall(text string) bool {
	return toolRegex.MatchString(text)
}

// UnmarshalXMLWithFallback attempts to unmarshal XML, with fallback to
// escape unescaped ampersands if the initial parse fails.
func UnmarshalXMLWithFallback(data []byte, v interface{}) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

// escapeUnescapedAmpersands replaces bare & with &amp; while preserving
// existing entities (&amp;, &lt;, &gt;, &quot;, &apos;, &#..;)
func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	entityPositions := make(map[int]bool)
	for _, match := range ampersandEntityRegex.FindAllStringIndex(text, -1) {
		entityPositions[match[0]] = true
	}

	var result strings.Builder
	result.Grow(len(text) + 20)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entityPositions[i] {
			result.WriteString("&amp;")
		} else {
			result.WriteByte(text[i])
		}
	}
	return []byte(result.String())
}

// XMLToMap converts an <arguments> block to a map of its direct children's
// text. Nested elements contribute their text to the enclosing parameter;
// CDATA sections are read verbatim.
func XMLToMap(data []byte) (map[string]string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	result := make(map[string]string)

	var (
		depth   int
		current string
		text    strings.Builder
	)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 && t.Name.Local == argumentsTagName {
				continue
			}
			if depth == 2 {
				current = t.Name.Local
				text.Reset()
			}
		case xml.EndElement:
			if depth == 2 && current != "" {
				result[current] = strings.TrimSpace(text.String())
				current = ""
			}
			depth--
		case xml.CharData:
			if depth >= 2 {
				text.Write(t)
			}
		}
	}
	return result, nil
}
