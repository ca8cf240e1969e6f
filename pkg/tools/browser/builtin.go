package browser

import (
	"context"
	"errors"
	"fmt"

	browsercore "github.com/entrhq/browseruse/pkg/browser"
)

// errNoSession is returned by browser actions run without a session.
var errNoSession = errors.New("no browser session")

func builtinActions() []Action {
	return []Action{
		navigateAction(),
		searchWebAction(),
		goBackAction(),
		clickElementAction(),
		inputTextAction(),
		scrollAction(),
		openTabAction(),
		switchTabAction(),
		closeTabAction(),
		extractContentAction(),
		findTextAction(),
		evaluateAction(),
		readFileAction(),
		writeFileAction(),
		waitAction(),
		doneAction(),
	}
}

func sessionOf(actx *ActionContext) (*browsercore.Session, error) {
	if actx == nil || actx.Session == nil {
		return nil, errNoSession
	}
	return actx.Session, nil
}

func focusedPage(actx *ActionContext) (browsercore.Page, error) {
	s, err := sessionOf(actx)
	if err != nil {
		return nil, err
	}
	return s.FocusedPage()
}

// elementAt resolves an index against the agent's latest snapshot, taking
// one if the agent has none yet.
func elementAt(ctx context.Context, actx *ActionContext, index int) (browsercore.DOMElement, error) {
	s, err := sessionOf(actx)
	if err != nil {
		return browsercore.DOMElement{}, err
	}
	state, ok := s.LastState(actx.AgentID)
	if !ok {
		state, err = s.GetBrowserStateWithRecovery(ctx, actx.AgentID)
		if err != nil {
			return browsercore.DOMElement{}, err
		}
	}
	el, ok := state.Element(index)
	if !ok {
		return browsercore.DOMElement{}, fmt.Errorf("element with index %d does not exist on %s", index, state.URL)
	}
	return el, nil
}

func textResult(format string, args ...interface{}) *ActionResult {
	return &ActionResult{ExtractedContent: fmt.Sprintf(format, args...), IncludeInMemory: true}
}
