package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

// searchURL is the engine used by search_web.
const searchURL = "https://duckduckgo.com/?q="

func navigateAction() Action {
	return Action{
		Name:        "navigate",
		Description: "Navigate to a URL in the current tab, or in a new tab when new_tab is true. The page is ready for interaction once this returns.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"url":     tools.Property("string", "URL to navigate to (must include protocol, e.g., https://example.com)"),
				"new_tab": tools.Property("boolean", "Open the URL in a new tab. Default: false"),
			},
			[]string{"url"},
		),
		Handler: navigate,
	}
}

func navigate(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	s, err := sessionOf(actx)
	if err != nil {
		return nil, err
	}
	target := strings.TrimSpace(params.String("url"))
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("invalid url %q: must include protocol", target)
	}

	if params.Bool("new_tab", false) {
		info, err := s.NewTab(ctx, target)
		if err != nil {
			return nil, err
		}
		return textResult("Opened %s in new tab %s", info.URL, info.TabID), nil
	}

	if err := s.Navigate(ctx, target); err != nil {
		return nil, err
	}
	return textResult("Navigated to %s", target), nil
}

func searchWebAction() Action {
	return Action{
		Name:        "search_web",
		Description: "Search the web for a query in the current tab.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"query": tools.Property("string", "Search query"),
			},
			[]string{"query"},
		),
		Handler: func(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
			s, err := sessionOf(actx)
			if err != nil {
				return nil, err
			}
			query := params.String("query")
			if err := s.Navigate(ctx, searchURL+url.QueryEscape(query)); err != nil {
				return nil, err
			}
			return textResult("Searched the web for %q", query), nil
		},
	}
}

func goBackAction() Action {
	return Action{
		Name:        "go_back",
		Description: "Go back to the previous page in the current tab's history.",
		Schema:      tools.BaseToolSchema(map[string]interface{}{}, nil),
		Handler: func(ctx context.Context, _ Params, actx *ActionContext) (*ActionResult, error) {
			s, err := sessionOf(actx)
			if err != nil {
				return nil, err
			}
			if err := s.GoBack(ctx); err != nil {
				return nil, err
			}
			page, err := s.FocusedPage()
			if err != nil {
				return nil, err
			}
			return textResult("Navigated back to %s", page.URL()), nil
		},
	}
}
