package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/browseruse/pkg/browser"
)

// maxStateErrors bounds the browser errors repeated in each state message.
const maxStateErrors = 5

// StepInfo locates a state message in the run.
type StepInfo struct {
	Step     int
	MaxSteps int
	Now      time.Time
}

// BuildStateMessage renders a browser snapshot for the model.
func BuildStateMessage(state *browser.BrowserState, info StepInfo) string {
	var b strings.Builder
	b.WriteString("<browser_state>\n")

	fmt.Fprintf(&b, "Current url: %s\n", state.URL)
	if state.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", state.Title)
	}
	if state.Loading {
		b.WriteString("The page is still loading.\n")
	}

	b.WriteString("Open tabs:\n")
	for _, tab := range state.Tabs {
		marker := " "
		if tab.TabID == state.FocusedTabID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s: %s", marker, tab.TabID, tab.URL)
		if tab.Title != "" {
			fmt.Fprintf(&b, " (%s)", tab.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("Interactive elements:\n")
	if state.PixelsAbove > 0 {
		fmt.Fprintf(&b, "... %d pixels above - scroll up to see more ...\n", state.PixelsAbove)
	} else {
		b.WriteString("[Start of page]\n")
	}
	if state.ElementsText == "" {
		b.WriteString("(no interactive elements)\n")
	} else {
		b.WriteString(state.ElementsText)
		b.WriteString("\n")
	}
	if state.PixelsBelow > 0 {
		fmt.Fprintf(&b, "... %d pixels below - scroll down to see more ...\n", state.PixelsBelow)
	} else {
		b.WriteString("[End of page]\n")
	}

	if errs := state.Errors; len(errs) > 0 {
		if len(errs) > maxStateErrors {
			errs = errs[len(errs)-maxStateErrors:]
		}
		b.WriteString("Recent browser errors:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- %s: %s\n", e.ErrorType, e.Message)
		}
	}

	if info.MaxSteps > 0 {
		fmt.Fprintf(&b, "Step %d of %d", info.Step, info.MaxSteps)
	} else {
		fmt.Fprintf(&b, "Step %d", info.Step)
	}
	if !info.Now.IsZero() {
		fmt.Fprintf(&b, ", %s", info.Now.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n</browser_state>")
	return b.String()
}
