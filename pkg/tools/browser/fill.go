package browser

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/entrhq/browseruse/pkg/agent/tools"
	"github.com/playwright-community/playwright-go"
)

func inputTextAction() Action {
	return Action{
		Name: "input_text",
		Description: "Replace the value of an input element with text. Use <secret>name</secret> " +
			"to type a sensitive value without seeing it.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"index": tools.Property("integer", "Index of the input element, as listed in the page state"),
				"text":  tools.Property("string", "Text to type"),
			},
			[]string{"index", "text"},
		),
		Handler: inputText,
	}
}

func inputText(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	index, _ := params.Int("index")
	el, err := elementAt(ctx, actx, index)
	if err != nil {
		return nil, err
	}
	page, err := focusedPage(actx)
	if err != nil {
		return nil, err
	}

	text := params.String("text")
	timeout := defaultActionTimeout
	if err := page.Fill(el.Selector(), text, playwright.PageFillOptions{Timeout: &timeout}); err != nil {
		return nil, fmt.Errorf("input into element %d (%s) failed: %w", index, el.Tag, err)
	}

	// The typed value may be a substituted secret, so only its length is reported.
	return textResult("Typed %d characters into element %d", utf8.RuneCountInString(text), index), nil
}
