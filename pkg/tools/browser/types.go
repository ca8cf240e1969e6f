package browser

import (
	"context"
	"fmt"

	browsercore "github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/llm"
)

// Handler runs one action with validated parameters.
type Handler func(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error)

// Action is a named capability the model can invoke.
type Action struct {
	Name        string
	Description string

	// Schema is a JSON-schema object describing the parameters. Only
	// "properties", "required", and each property's "type" and "enum" are
	// enforced.
	Schema map[string]interface{}

	Handler Handler
}

// ActionContext carries everything a handler may touch.
type ActionContext struct {
	Session *browsercore.Session
	AgentID string

	// ExtractionLLM answers extract_content queries. Optional.
	ExtractionLLM llm.Client

	// FileSystem backs read_file and write_file. Optional.
	FileSystem FileSystem

	// AvailableFilePaths lists files the agent may read outside FileSystem.
	AvailableFilePaths []string

	// SensitiveData maps a domain pattern to placeholder values. The
	// pattern "*" applies everywhere.
	SensitiveData map[string]map[string]string
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	// ExtractedContent is the text reported back to the model.
	ExtractedContent string

	// IncludeInMemory asks the agent to keep ExtractedContent in the
	// conversation rather than only for the next step.
	IncludeInMemory bool

	// IsDone ends the agent loop.
	IsDone bool

	// Success is meaningful when IsDone is set.
	Success bool

	Metadata map[string]interface{}
}

// Params are an action's validated parameters.
type Params map[string]any

// String returns the string parameter key, or "" when absent.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the integer parameter key.
func (p Params) Int(key string) (int, bool) {
	v, ok := p[key].(int)
	return v, ok
}

// Float returns the number parameter key.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the boolean parameter key, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}
