// Package tools defines the wire format the agent and the language model use
// to exchange action calls.
//
// The model answers each step with free-form reasoning followed by exactly
// one XML call:
//
//	<tool>
//	<tool_name>click_element</tool_name>
//	<arguments>
//	  <index>4</index>
//	</arguments>
//	</tool>
//
// Arguments are flat: every direct child of <arguments> becomes one
// parameter whose value is the element's text.
package tools

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// ToolCall represents a parsed action invocation from the model's response.
type ToolCall struct {
	XMLName   xml.Name       `xml:"tool"`
	ToolName  string         `xml:"tool_name"`
	Arguments ArgumentsBlock `xml:"arguments"`
}

// ArgumentsBlock holds the raw XML of the arguments element
type ArgumentsBlock struct {
	InnerXML []byte `xml:",innerxml"`
}

// GetArgumentsXML returns the arguments wrapped in <arguments> tags for unmarshaling.
func (tc *ToolCall) GetArgumentsXML() []byte {
	const prefix = "<arguments>"
	const suffix = "</arguments>"

	result := make([]byte, 0, len(prefix)+len(tc.Arguments.InnerXML)+len(suffix))
	result = append(result, prefix...)
	result = append(result, tc.Arguments.InnerXML...)
	result = append(result, suffix...)
	return result
}

// Params decodes the call's arguments into a parameter map. Values are
// strings; the action registry coerces them to the declared types.
func (tc *ToolCall) Params() (map[string]any, error) {
	raw, err := XMLToMap(tc.GetArgumentsXML())
	if err != nil {
		// Retry once with bare ampersands escaped.
		raw, err = XMLToMap(escapeUnescapedAmpersands(tc.GetArgumentsXML()))
		if err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", tc.ToolName, err)
		}
	}
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		params[k] = v
	}
	return params, nil
}

// BaseToolSchema creates a common JSON schema structure for an action
// with the given properties and required fields
func BaseToolSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Property builds one schema property.
func Property(typ, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typ,
		"description": description,
	}
}

// EnumProperty builds a string property restricted to values.
func EnumProperty(description string, values ...string) map[string]interface{} {
	p := Property("string", description)
	p["enum"] = values
	return p
}

// FormatCall renders a call in the wire format. Parameters are written in
// name order so the output is stable.
func FormatCall(name string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<tool>\n<tool_name>")
	b.WriteString(name)
	b.WriteString("</tool_name>\n<arguments>\n")
	for _, k := range keys {
		var esc strings.Builder
		_ = xml.EscapeText(&esc, []byte(params[k]))
		fmt.Fprintf(&b, "  <%s>%s</%s>\n", k, esc.String(), k)
	}
	b.WriteString("</arguments>\n</tool>")
	return b.String()
}
