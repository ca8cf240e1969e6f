package browser

import (
	"context"
	"fmt"

	"github.com/entrhq/browseruse/pkg/agent/tools"
	"github.com/playwright-community/playwright-go"
)

// defaultActionTimeout bounds a single click or fill in milliseconds.
const defaultActionTimeout = 10000.0

func clickElementAction() Action {
	return Action{
		Name:        "click_element",
		Description: "Click an interactive element by its index from the current page state.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"index": tools.Property("integer", "Index of the element to click, as listed in the page state"),
			},
			[]string{"index"},
		),
		Handler: clickElement,
	}
}

func clickElement(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	index, _ := params.Int("index")
	el, err := elementAt(ctx, actx, index)
	if err != nil {
		return nil, err
	}
	page, err := focusedPage(actx)
	if err != nil {
		return nil, err
	}

	tabsBefore := len(actx.Session.Tabs())
	timeout := defaultActionTimeout
	if err := page.Click(el.Selector(), playwright.PageClickOptions{Timeout: &timeout}); err != nil {
		return nil, fmt.Errorf("click on element %d (%s) failed: %w", index, el.Tag, err)
	}

	msg := fmt.Sprintf("Clicked element %d: <%s>%s", index, el.Tag, el.Text)
	if tabs := actx.Session.Tabs(); len(tabs) > tabsBefore {
		msg += fmt.Sprintf("\nA new tab opened (%s); use switch_tab to work in it.", tabs[len(tabs)-1].TabID)
	}
	return &ActionResult{
		ExtractedContent: msg,
		IncludeInMemory:  true,
		Metadata:         map[string]interface{}{"xpath": el.XPath},
	}, nil
}
