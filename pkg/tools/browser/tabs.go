package browser

import (
	"context"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

func openTabAction() Action {
	return Action{
		Name:        "open_tab",
		Description: "Open a new tab, optionally at a URL, and focus it.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"url": tools.Property("string", "URL to open. Default: about:blank"),
			},
			nil,
		),
		Handler: func(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
			s, err := sessionOf(actx)
			if err != nil {
				return nil, err
			}
			info, err := s.NewTab(ctx, params.String("url"))
			if err != nil {
				return nil, err
			}
			return textResult("Opened tab %s at %s", info.TabID, info.URL), nil
		},
	}
}

func switchTabAction() Action {
	return Action{
		Name:        "switch_tab",
		Description: "Focus another open tab by its id from the page state.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"tab_id": tools.Property("string", "Id of the tab to focus, e.g. tab-2"),
			},
			[]string{"tab_id"},
		),
		Handler: func(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
			s, err := sessionOf(actx)
			if err != nil {
				return nil, err
			}
			info, err := s.SwitchTab(ctx, params.String("tab_id"))
			if err != nil {
				return nil, err
			}
			return textResult("Switched to tab %s (%s)", info.TabID, info.URL), nil
		},
	}
}

func closeTabAction() Action {
	return Action{
		Name:        "close_tab",
		Description: "Close an open tab by its id. Focus moves to the most recent remaining tab.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"tab_id": tools.Property("string", "Id of the tab to close"),
			},
			[]string{"tab_id"},
		),
		Handler: func(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
			s, err := sessionOf(actx)
			if err != nil {
				return nil, err
			}
			tabID := params.String("tab_id")
			if err := s.CloseTab(ctx, tabID); err != nil {
				return nil, err
			}
			return textResult("Closed tab %s", tabID), nil
		},
	}
}
