package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/browseruse/pkg/agent/tools"
	browsercore "github.com/entrhq/browseruse/pkg/browser"
)

// SearchResult is one match of find_text.
type SearchResult struct {
	Text    string
	Context string
}

func findTextAction() Action {
	return Action{
		Name:        "find_text",
		Description: "Search the visible text of the current page for a pattern. Returns matching text with surrounding context.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"pattern":        tools.Property("string", "Text pattern to search for in the page content"),
				"case_sensitive": tools.Property("boolean", "Whether the search should be case-sensitive. Default: false"),
				"max_results":    tools.Property("integer", "Maximum number of results to return, between 1 and 100. Default: 10"),
			},
			[]string{"pattern"},
		),
		Handler: findText,
	}
}

func findText(_ context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	page, err := focusedPage(actx)
	if err != nil {
		return nil, err
	}

	maxResults := 10
	if n, ok := params.Int("max_results"); ok {
		if n < 1 || n > 100 {
			return nil, fmt.Errorf("max_results must be between 1 and 100")
		}
		maxResults = n
	}

	raw, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	text, err := browsercore.VisibleText(raw)
	if err != nil {
		return nil, err
	}

	pattern := params.String("pattern")
	results := searchText(text, pattern, params.Bool("case_sensitive", false), maxResults)

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d match(es) for %q on %s", len(results), pattern, page.URL())
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %q in: %s", i+1, r.Text, r.Context)
	}
	if len(results) == maxResults {
		fmt.Fprintf(&b, "\n[Limited to %d results. There may be more matches in the page.]", maxResults)
	}
	return &ActionResult{
		ExtractedContent: b.String(),
		IncludeInMemory:  true,
		Metadata:         map[string]interface{}{"matches": len(results)},
	}, nil
}

// searchText finds pattern in text line by line, reporting each match with
// up to contextChars characters either side.
func searchText(text, pattern string, caseSensitive bool, maxResults int) []SearchResult {
	const contextChars = 60

	needle := pattern
	if !caseSensitive {
		needle = strings.ToLower(pattern)
	}
	if needle == "" {
		return nil
	}

	var results []SearchResult
	for _, line := range strings.Split(text, "\n") {
		haystack := line
		if !caseSensitive {
			haystack = strings.ToLower(line)
		}
		offset := 0
		for len(results) < maxResults {
			i := strings.Index(haystack[offset:], needle)
			if i < 0 {
				break
			}
			start := offset + i
			end := start + len(needle)

			from := max(0, start-contextChars)
			to := min(len(line), end+contextChars)
			results = append(results, SearchResult{
				Text:    line[start:end],
				Context: strings.TrimSpace(line[from:to]),
			})
			offset = end
		}
		if len(results) >= maxResults {
			break
		}
	}
	return results
}
