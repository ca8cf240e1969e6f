package prompts

import (
	"fmt"
	"strings"
)

// ErrorType classifies a failed step for the recovery message.
type ErrorType int

const (
	ErrorTypeNoToolCall ErrorType = iota
	ErrorTypeInvalidXML
	ErrorTypeUnknownAction
	ErrorTypeInvalidParams
	ErrorTypeActionFailed
)

// ErrorRecoveryContext describes a failed step.
type ErrorRecoveryContext struct {
	Type             ErrorType
	ActionName       string
	Error            error
	AvailableActions []string
}

// BuildErrorRecoveryMessage tells the model what went wrong in its last
// response and how to correct it.
func BuildErrorRecoveryMessage(c ErrorRecoveryContext) string {
	var b strings.Builder
	b.WriteString("<error>\n")

	switch c.Type {
	case ErrorTypeNoToolCall:
		b.WriteString("Your response did not contain an action call. Every response must contain exactly one <tool> block.\n")
		b.WriteString("Call done if the task is complete.")
	case ErrorTypeInvalidXML:
		fmt.Fprintf(&b, "Your action call could not be parsed: %v\n", c.Error)
		b.WriteString("Check that every tag is closed and that special characters are escaped.")
	case ErrorTypeUnknownAction:
		fmt.Fprintf(&b, "Unknown action %q.", c.ActionName)
		if len(c.AvailableActions) > 0 {
			fmt.Fprintf(&b, " Available actions: %s", strings.Join(c.AvailableActions, ", "))
		}
	case ErrorTypeInvalidParams:
		fmt.Fprintf(&b, "Invalid parameters for %s: %v\n", c.ActionName, c.Error)
		b.WriteString("Check the action's parameters in available_actions and try again.")
	default:
		fmt.Fprintf(&b, "Action %s failed: %v\n", c.ActionName, c.Error)
		b.WriteString("Look at the current state and try a different approach if the problem persists.")
	}

	b.WriteString("\n</error>")
	return b.String()
}
