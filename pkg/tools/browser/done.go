package browser

import (
	"context"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

// DoneActionName is the action that ends the agent loop.
const DoneActionName = "done"

func doneAction() Action {
	return Action{
		Name: DoneActionName,
		Description: "Finish the task and report the result. Set success to false if the task " +
			"could not be completed. The text should be complete and not end with questions.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"text":    tools.Property("string", "The final result of the task"),
				"success": tools.Property("boolean", "Whether the task was completed. Default: true"),
			},
			[]string{"text"},
		),
		Handler: func(_ context.Context, params Params, _ *ActionContext) (*ActionResult, error) {
			return &ActionResult{
				ExtractedContent: params.String("text"),
				IncludeInMemory:  true,
				IsDone:           true,
				Success:          params.Bool("success", true),
			}, nil
		},
	}
}
