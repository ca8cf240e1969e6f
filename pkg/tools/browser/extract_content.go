package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/browseruse/pkg/agent/tools"
	browsercore "github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/llm"
)

// DefaultMaxLength bounds the page content handed to the extraction model.
const DefaultMaxLength = 20000

const extractionPrompt = `You extract information from web pages.
You receive a page as simplified HTML and a goal. Answer only with the
information that serves the goal, quoting values exactly as they appear.
If the page does not contain it, say so.`

func extractContentAction() Action {
	return Action{
		Name: "extract_content",
		Description: "Extract information from the current page for a goal. The page is read in full, " +
			"including content outside the viewport.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"goal":       tools.Property("string", "What to extract, e.g. 'the price and availability of the product'"),
				"max_length": tools.Property("integer", "Maximum page characters to read, between 100 and 100000. Default: 20000"),
				"save_to":    tools.Property("string", "Optional file to save the extraction to"),
			},
			[]string{"goal"},
		),
		Handler: extractContent,
	}
}

func extractContent(ctx context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	page, err := focusedPage(actx)
	if err != nil {
		return nil, err
	}

	maxLength := DefaultMaxLength
	if n, ok := params.Int("max_length"); ok {
		if n < 100 || n > 100000 {
			return nil, fmt.Errorf("max_length must be between 100 and 100000")
		}
		maxLength = n
	}

	raw, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	cleaned, err := browsercore.CleanHTML(raw, maxLength)
	if err != nil {
		return nil, err
	}

	goal := params.String("goal")
	content := cleaned.HTML
	if actx.ExtractionLLM != nil {
		content, err = askExtractionModel(ctx, actx.ExtractionLLM, goal, page.URL(), cleaned)
		if err != nil {
			return nil, err
		}
	}

	if path := params.String("save_to"); path != "" {
		if actx.FileSystem == nil {
			return nil, errNoFileSystem
		}
		if err := actx.FileSystem.WriteFile(path, []byte(content)); err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Extracted from %s", page.URL())
	if cleaned.Title != "" {
		fmt.Fprintf(&b, " (%s)", cleaned.Title)
	}
	fmt.Fprintf(&b, " for goal %q:\n\n%s", goal, content)
	if cleaned.Truncated {
		fmt.Fprintf(&b, "\n\n[Page truncated at %d characters]", maxLength)
	}
	return &ActionResult{
		ExtractedContent: b.String(),
		IncludeInMemory:  true,
		Metadata:         map[string]interface{}{"truncated": cleaned.Truncated},
	}, nil
}

func askExtractionModel(ctx context.Context, client llm.Client, goal, pageURL string, page *browsercore.CleanedHTML) (string, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Goal: %s\nURL: %s\n", goal, pageURL)
	if page.Description != "" {
		fmt.Fprintf(&user, "Description: %s\n", page.Description)
	}
	fmt.Fprintf(&user, "\nPage:\n%s", page.HTML)

	completion, err := client.Invoke(ctx, []llm.Message{
		llm.SystemMessage(extractionPrompt),
		llm.UserMessage(user.String()),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("extraction model failed: %w", err)
	}
	return strings.TrimSpace(completion.Content), nil
}
