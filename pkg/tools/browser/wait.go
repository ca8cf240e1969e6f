package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

const (
	defaultWaitSeconds = 3.0
	maxWaitSeconds     = 30.0
)

func waitAction() Action {
	return Action{
		Name:        "wait",
		Description: "Wait for the page to settle, e.g. after an action that loads content asynchronously.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"seconds": tools.Property("number", "Seconds to wait, at most 30. Default: 3"),
			},
			nil,
		),
		Handler: wait,
	}
}

func wait(ctx context.Context, params Params, _ *ActionContext) (*ActionResult, error) {
	seconds, ok := params.Float("seconds")
	if !ok {
		seconds = defaultWaitSeconds
	}
	if seconds < 0 || seconds > maxWaitSeconds {
		return nil, fmt.Errorf("seconds must be between 0 and %.0f", maxWaitSeconds)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return textResult("Waited %g seconds", seconds), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
