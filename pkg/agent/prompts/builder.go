package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/browseruse/pkg/llm"
)

// ActionSpec describes one action offered to the model.
type ActionSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// PromptBuilder constructs the agent's system prompt.
type PromptBuilder struct {
	actions            []ActionSpec
	customInstructions string
	sensitiveKeys      []string
}

// NewPromptBuilder creates a new prompt builder with default settings
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// WithActions sets the actions the agent may call.
func (pb *PromptBuilder) WithActions(actions []ActionSpec) *PromptBuilder {
	pb.actions = actions
	return pb
}

// WithCustomInstructions adds user-provided instructions. They are placed
// ahead of the built-in sections.
func (pb *PromptBuilder) WithCustomInstructions(instructions string) *PromptBuilder {
	pb.customInstructions = instructions
	return pb
}

// WithSensitiveDataKeys lists the placeholder names the agent may use.
// Values are never included.
func (pb *PromptBuilder) WithSensitiveDataKeys(keys []string) *PromptBuilder {
	pb.sensitiveKeys = append([]string(nil), keys...)
	sort.Strings(pb.sensitiveKeys)
	return pb
}

// Build constructs the complete system prompt by assembling all sections
func (pb *PromptBuilder) Build() string {
	var builder strings.Builder

	if pb.customInstructions != "" {
		builder.WriteString("<custom_instructions>\n")
		builder.WriteString(pb.customInstructions)
		builder.WriteString("\n</custom_instructions>\n\n")
	}

	builder.WriteString(SystemCapabilitiesPrompt)
	builder.WriteString("\n\n")
	builder.WriteString(AgentLoopPrompt)
	builder.WriteString("\n\n")
	builder.WriteString(ChainOfThoughtPrompt)
	builder.WriteString("\n\n")
	builder.WriteString(ToolCallingPrompt)
	builder.WriteString("\n\n")

	if len(pb.actions) > 0 {
		builder.WriteString("<available_actions>\n")
		builder.WriteString(FormatActionSchemas(pb.actions))
		builder.WriteString("</available_actions>\n\n")
	}

	builder.WriteString(BrowserRulesPrompt)

	if len(pb.sensitiveKeys) > 0 {
		builder.WriteString("\n\n<sensitive_data>\nPlaceholders available: ")
		builder.WriteString(strings.Join(pb.sensitiveKeys, ", "))
		builder.WriteString("\n</sensitive_data>")
	}
	return builder.String()
}

// FormatActionSchemas renders every action with its parameters and an
// example call.
func FormatActionSchemas(actions []ActionSpec) string {
	var b strings.Builder
	for _, a := range actions {
		b.WriteString(FormatActionSchema(a))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatActionSchema renders one action.
func FormatActionSchema(a ActionSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n%s\n", a.Name, a.Description)

	props, _ := a.Schema["properties"].(map[string]interface{})
	if len(props) > 0 {
		required := make(map[string]bool)
		for _, r := range requiredFields(a.Schema) {
			required[r] = true
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("Parameters:\n")
		for _, name := range names {
			prop, _ := props[name].(map[string]interface{})
			typ, _ := prop["type"].(string)
			desc, _ := prop["description"].(string)
			req := "optional"
			if required[name] {
				req = "required"
			}
			fmt.Fprintf(&b, "- %s (%s, %s): %s\n", name, typ, req, desc)
		}
	}

	b.WriteString("Example:\n")
	b.WriteString(GenerateXMLExample(a.Schema, a.Name))
	b.WriteString("\n")
	return b.String()
}

// BuildMessages creates the message list for one step: the system prompt,
// the task, the conversation history, and the current state. The state
// message and errorContext are ephemeral and never stored in history.
func BuildMessages(systemPrompt, task string, history []llm.Message, stateMessage, errorContext string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+4)
	messages = append(messages, llm.SystemMessage(systemPrompt))
	messages = append(messages, llm.UserMessage("<task>\n"+task+"\n</task>"))

	for _, msg := range history {
		if msg.Role != llm.RoleSystem {
			messages = append(messages, msg)
		}
	}

	if errorContext != "" {
		messages = append(messages, llm.UserMessage(errorContext))
	}
	if stateMessage != "" {
		messages = append(messages, llm.UserMessage(stateMessage))
	}
	return messages
}
