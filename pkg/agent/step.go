package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/browseruse/pkg/agent/prompts"
	"github.com/entrhq/browseruse/pkg/agent/tools"
	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/llm"
	actions "github.com/entrhq/browseruse/pkg/tools/browser"
)

// Step runs one observe, decide and act cycle. Failures of the browser,
// the model or the action are recorded in the returned StepResult and
// counted towards MaxFailures. Step returns an error only when ctx ended,
// in which case the step is still recorded.
func (a *Agent) Step(ctx context.Context) (*StepResult, error) {
	a.mu.Lock()
	a.stepNum++
	result := StepResult{Step: a.stepNum, StartedAt: a.now()}
	a.mu.Unlock()

	stepCtx := ctx
	if a.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, a.stepTimeout)
		defer cancel()
	}

	err := a.step(stepCtx, &result)
	result.Duration = a.now().Sub(result.StartedAt)

	a.mu.Lock()
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		a.consecutiveFailures++
	} else {
		a.consecutiveFailures = 0
	}
	a.history.add(result)
	a.mu.Unlock()

	if err != nil {
		a.logger.Warnf("Agent %s step %d failed: %v", a.id, result.Step, err)
		if ctx.Err() != nil {
			return &result, fmt.Errorf("agent: step %d aborted: %w", result.Step, err)
		}
	}
	return &result, nil
}

func (a *Agent) step(ctx context.Context, result *StepResult) error {
	state, err := a.session.GetBrowserStateWithRecovery(ctx, a.id)
	if err != nil {
		return fmt.Errorf("failed to get browser state: %w", err)
	}
	result.URL = state.URL

	messages := a.buildMessages(state, result.Step)

	completion, err := a.invoke(ctx, messages)
	if err != nil {
		return err
	}
	result.Usage = completion.Usage

	thinking, call, _, perr := tools.ExtractThinkingAndToolCall(completion.Content)
	result.Thinking = strings.TrimSpace(strings.Join(nonEmpty(completion.Thinking, thinking), "\n"))
	a.remember(llm.AssistantMessage(completion.Content))

	if perr != nil {
		a.setErrorContext(prompts.ErrorRecoveryContext{Type: prompts.ErrorTypeInvalidXML, Error: perr})
		return fmt.Errorf("invalid action call: %w", perr)
	}
	if call == nil {
		a.setErrorContext(prompts.ErrorRecoveryContext{Type: prompts.ErrorTypeNoToolCall})
		return errors.New("response did not contain an action call")
	}

	result.Action = call.ToolName
	params, err := call.Params()
	if err != nil {
		a.setErrorContext(prompts.ErrorRecoveryContext{Type: prompts.ErrorTypeInvalidXML, ActionName: call.ToolName, Error: err})
		return fmt.Errorf("invalid arguments for %s: %w", call.ToolName, err)
	}
	result.Params = params

	a.logger.Infof("Agent %s step %d: %s %v", a.id, result.Step, call.ToolName, params)
	actionResult, err := a.registry.ExecuteAction(ctx, call.ToolName, params, a.actionContext())
	if err != nil {
		a.setErrorContext(recoveryContext(call.ToolName, err, a.actionNames()))
		return err
	}
	result.Result = actionResult
	result.Success = true

	a.recordActionResult(call.ToolName, actionResult)
	return nil
}

func (a *Agent) actionContext() *actions.ActionContext {
	return &actions.ActionContext{
		Session:            a.session,
		AgentID:            a.id,
		ExtractionLLM:      a.extractionLLM,
		FileSystem:         a.fileSystem,
		AvailableFilePaths: a.availableFilePaths,
		SensitiveData:      a.sensitiveData,
	}
}

// buildMessages assembles the prompt for one step. The error context and
// the previous step's ephemeral result are shown once.
func (a *Agent) buildMessages(state *browser.BrowserState, step int) []llm.Message {
	systemPrompt := prompts.NewPromptBuilder().
		WithActions(a.actionSpecs()).
		WithCustomInstructions(a.customInstructions).
		WithSensitiveDataKeys(a.sensitiveKeys()).
		Build()

	stateMessage := prompts.BuildStateMessage(state, prompts.StepInfo{
		Step:     step,
		MaxSteps: a.maxSteps,
		Now:      a.now(),
	})

	a.mu.Lock()
	ephemeral := strings.Join(nonEmpty(a.pendingResult, a.errorContext), "\n\n")
	a.pendingResult = ""
	a.errorContext = ""
	history := a.memory.GetAll()
	a.mu.Unlock()

	return prompts.BuildMessages(systemPrompt, a.task, history, stateMessage, ephemeral)
}

func (a *Agent) invoke(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	completion, err := a.client.Invoke(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}
	if completion.Usage == nil && a.tokenizer != nil {
		completion.Usage = a.tokenizer.EstimateUsage(messages, completion.Content)
	}
	return completion, nil
}

func (a *Agent) recordActionResult(name string, r *actions.ActionResult) {
	if r.ExtractedContent == "" {
		return
	}
	msg := fmt.Sprintf("Action %s result:\n%s", name, r.ExtractedContent)
	if r.IncludeInMemory {
		a.remember(llm.UserMessage(msg))
		return
	}
	a.mu.Lock()
	a.pendingResult = msg
	a.mu.Unlock()
}

func (a *Agent) remember(msg llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory.Add(msg)
}

func (a *Agent) setErrorContext(c prompts.ErrorRecoveryContext) {
	msg := prompts.BuildErrorRecoveryMessage(c)
	a.mu.Lock()
	a.errorContext = msg
	a.mu.Unlock()
}

// recoveryContext classifies an ExecuteAction error for the model.
func recoveryContext(name string, err error, available []string) prompts.ErrorRecoveryContext {
	var notFound *actions.ActionNotFoundError
	var invalid *actions.ValidationError
	switch {
	case errors.As(err, &notFound):
		return prompts.ErrorRecoveryContext{Type: prompts.ErrorTypeUnknownAction, ActionName: name, AvailableActions: available}
	case errors.As(err, &invalid):
		return prompts.ErrorRecoveryContext{Type: prompts.ErrorTypeInvalidParams, ActionName: name, Error: errors.New(invalid.Detail)}
	default:
		return prompts.ErrorRecoveryContext{Type: prompts.ErrorTypeActionFailed, ActionName: name, Error: err}
	}
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
