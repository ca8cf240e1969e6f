package browser

import (
	"context"
	"fmt"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

const scrollScript = `(dy) => { window.scrollBy(0, dy); return window.scrollY; }`

func scrollAction() Action {
	return Action{
		Name:        "scroll",
		Description: "Scroll the current page up or down. Without pixels, scrolls one viewport height.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"direction": tools.EnumProperty("Direction to scroll", "up", "down"),
				"pixels":    tools.Property("integer", "Distance in pixels. Default: one viewport"),
			},
			[]string{"direction"},
		),
		Handler: scroll,
	}
}

func scroll(_ context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	page, err := focusedPage(actx)
	if err != nil {
		return nil, err
	}

	pixels, ok := params.Int("pixels")
	if !ok || pixels <= 0 {
		pixels = actx.Session.Profile().ViewportHeight
	}
	if pixels <= 0 {
		pixels = 800
	}
	dy := pixels
	if params.String("direction") == "up" {
		dy = -pixels
	}

	if _, err := page.Evaluate(scrollScript, dy); err != nil {
		return nil, fmt.Errorf("scroll failed: %w", err)
	}
	return textResult("Scrolled %s by %d pixels", params.String("direction"), pixels), nil
}
