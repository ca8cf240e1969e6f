package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

func evaluateAction() Action {
	return Action{
		Name: "evaluate",
		Description: "Execute JavaScript in the current page and return the result. For complex " +
			"operations, wrap the code in an IIFE: (function() { /* code */ })()",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"script": tools.Property("string", "JavaScript expression or function to evaluate"),
			},
			[]string{"script"},
		),
		Handler: evaluate,
	}
}

func evaluate(_ context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	page, err := focusedPage(actx)
	if err != nil {
		return nil, err
	}

	result, err := page.Evaluate(params.String("script"))
	if err != nil {
		return nil, fmt.Errorf("JavaScript execution failed: %w", err)
	}
	return textResult("Result:\n%s", formatJSResult(result)), nil
}

// formatJSResult renders structured values as indented JSON.
func formatJSResult(result interface{}) string {
	if result == nil {
		return "undefined"
	}
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
