package tools

import (
	"errors"
	"strings"
	"testing"
)

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantName   string
		wantParams map[string]any
		wantRest   string
		wantErr    bool
	}{
		{
			name: "simple call",
			input: `I should open the login form.
<tool>
<tool_name>click_element</tool_name>
<arguments>
  <index>4</index>
</arguments>
</tool>`,
			wantName:   "click_element",
			wantParams: map[string]any{"index": "4"},
			wantRest:   "I should open the login form.",
		},
		{
			name:       "bare ampersand in url",
			input:      `<tool><tool_name>navigate</tool_name><arguments><url>https://example.com/?a=1&b=2</url></arguments></tool>`,
			wantName:   "navigate",
			wantParams: map[string]any{"url": "https://example.com/?a=1&b=2"},
		},
		{
			name:       "cdata is kept verbatim",
			input:      `<tool><tool_name>evaluate</tool_name><arguments><script><![CDATA[document.querySelectorAll("a").length < 3]]></script></arguments></tool>`,
			wantName:   "evaluate",
			wantParams: map[string]any{"script": `document.querySelectorAll("a").length < 3`},
		},
		{
			name:       "no arguments",
			input:      `<tool><tool_name>go_back</tool_name></tool>`,
			wantName:   "go_back",
			wantParams: map[string]any{},
		},
		{
			name:    "missing tool name",
			input:   `<tool><arguments><index>1</index></arguments></tool>`,
			wantErr: true,
		},
		{
			name:    "no tool block",
			input:   `I am done thinking.`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, rest, err := ParseToolCall(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got call %+v", call)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if call.ToolName != tt.wantName {
				t.Errorf("ToolName = %q, want %q", call.ToolName, tt.wantName)
			}
			if rest != tt.wantRest {
				t.Errorf("remaining = %q, want %q", rest, tt.wantRest)
			}
			params, err := call.Params()
			if err != nil {
				t.Fatalf("Params() error = %v", err)
			}
			if len(params) != len(tt.wantParams) {
				t.Fatalf("Params() = %v, want %v", params, tt.wantParams)
			}
			for k, want := range tt.wantParams {
				if params[k] != want {
					t.Errorf("param %s = %v, want %v", k, params[k], want)
				}
			}
		})
	}
}

func TestParseToolCallNoToolSentinel(t *testing.T) {
	_, _, err := ParseToolCall("just text")
	if !errors.Is(err, ErrNoToolCall) {
		t.Errorf("expected ErrNoToolCall, got %v", err)
	}
}

func TestExtractThinkingAndToolCall(t *testing.T) {
	text := "Page loaded.\n<tool><tool_name>done</tool_name><arguments><text>ok</text></arguments></tool>\ntrailing"
	thinking, call, remaining, err := ExtractThinkingAndToolCall(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thinking != "Page loaded." {
		t.Errorf("thinking = %q", thinking)
	}
	if call == nil || call.ToolName != "done" {
		t.Fatalf("call = %+v", call)
	}
	if remaining != "trailing" {
		t.Errorf("remaining = %q", remaining)
	}

	thinking, call, _, err = ExtractThinkingAndToolCall("  only prose  ")
	if err != nil || call != nil || thinking != "only prose" {
		t.Errorf("got thinking=%q call=%v err=%v", thinking, call, err)
	}
}

func TestXMLToMapNestedText(t *testing.T) {
	got, err := XMLToMap([]byte(`<arguments><text>Hello <b>bold</b> world</text><empty></empty></arguments>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["text"] != "Hello bold world" {
		t.Errorf("text = %q", got["text"])
	}
	if v, ok := got["empty"]; !ok || v != "" {
		t.Errorf("empty = %q, present %v", v, ok)
	}
}

func TestFormatCallRoundTrip(t *testing.T) {
	out := FormatCall("input_text", map[string]string{"index": "2", "text": "a < b & c"})
	if !strings.Contains(out, "<tool_name>input_text</tool_name>") {
		t.Fatalf("missing tool name in %s", out)
	}
	if strings.Index(out, "<index>") > strings.Index(out, "<text>") {
		t.Errorf("parameters not sorted: %s", out)
	}

	call, _, err := ParseToolCall(out)
	if err != nil {
		t.Fatalf("ParseToolCall() error = %v", err)
	}
	params, err := call.Params()
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	if params["text"] != "a < b & c" {
		t.Errorf("text = %q", params["text"])
	}
}

func TestBaseToolSchema(t *testing.T) {
	schema := BaseToolSchema(map[string]interface{}{
		"name": Property("string", "The name"),
		"mode": EnumProperty("Mode", "a", "b"),
	}, []string{"name"})

	if schema["type"] != "object" {
		t.Errorf("expected type 'object', got '%v'", schema["type"])
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema should have 'properties' field")
	}
	mode := props["mode"].(map[string]interface{})
	if values := mode["enum"].([]string); len(values) != 2 {
		t.Errorf("enum = %v", values)
	}
	if _, ok := schema["required"]; !ok {
		t.Error("schema should have 'required' field")
	}
	if _, ok := BaseToolSchema(nil, nil)["required"]; ok {
		t.Error("schema without required fields should omit 'required'")
	}
}
