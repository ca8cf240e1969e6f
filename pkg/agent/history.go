package agent

import (
	"fmt"
	"io"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/browseruse/pkg/llm"
	actions "github.com/entrhq/browseruse/pkg/tools/browser"
)

// StopReason says why Run returned.
type StopReason string

const (
	StopDone        StopReason = "done"
	StopMaxSteps    StopReason = "max_steps"
	StopMaxFailures StopReason = "max_failures"
	StopAborted     StopReason = "aborted"
	StopStopped     StopReason = "stopped"
)

// StepResult records one observe, decide and act step.
type StepResult struct {
	Step     int            `yaml:"step"`
	URL      string         `yaml:"url,omitempty"`
	Thinking string         `yaml:"thinking,omitempty"`
	Action   string         `yaml:"action,omitempty"`
	Params   map[string]any `yaml:"params,omitempty"`

	// Result is set when the action ran.
	Result *actions.ActionResult `yaml:"result,omitempty"`

	Success bool       `yaml:"success"`
	Error   string     `yaml:"error,omitempty"`
	Usage   *llm.Usage `yaml:"usage,omitempty"`

	StartedAt time.Time     `yaml:"started_at"`
	Duration  time.Duration `yaml:"duration"`
}

// IsDone reports whether the step ended the task.
func (r *StepResult) IsDone() bool {
	return r != nil && r.Result != nil && r.Result.IsDone
}

// History is the record of a run.
type History struct {
	AgentID    string        `yaml:"agent_id"`
	Task       string        `yaml:"task"`
	Steps      []StepResult  `yaml:"steps"`
	StopReason StopReason    `yaml:"stop_reason,omitempty"`
	Usage      llm.Usage     `yaml:"usage"`
	Duration   time.Duration `yaml:"duration"`
}

func (h *History) add(r StepResult) {
	h.Steps = append(h.Steps, r)
	h.Usage.Add(r.Usage)
}

func (h *History) clone() *History {
	cp := *h
	cp.Steps = slices.Clone(h.Steps)
	return &cp
}

// IsDone reports whether the last step called done.
func (h *History) IsDone() bool {
	if len(h.Steps) == 0 {
		return false
	}
	return h.Steps[len(h.Steps)-1].IsDone()
}

// IsSuccessful reports whether the task finished and done reported success.
func (h *History) IsSuccessful() bool {
	return h.IsDone() && h.Steps[len(h.Steps)-1].Result.Success
}

// FinalResult returns the text passed to done, or "" when the task did not
// finish.
func (h *History) FinalResult() string {
	if !h.IsDone() {
		return ""
	}
	return h.Steps[len(h.Steps)-1].Result.ExtractedContent
}

// Errors returns the error of each failed step in order.
func (h *History) Errors() []string {
	var out []string
	for _, s := range h.Steps {
		if s.Error != "" {
			out = append(out, fmt.Sprintf("step %d: %s", s.Step, s.Error))
		}
	}
	return out
}

// URLs returns the distinct page URLs the agent acted on, in visit order.
func (h *History) URLs() []string {
	var out []string
	for _, s := range h.Steps {
		if s.URL != "" && !slices.Contains(out, s.URL) {
			out = append(out, s.URL)
		}
	}
	return out
}

// ActionNames returns the action of every step that chose one.
func (h *History) ActionNames() []string {
	var out []string
	for _, s := range h.Steps {
		if s.Action != "" {
			out = append(out, s.Action)
		}
	}
	return out
}

// WriteYAML writes the history as YAML.
func (h *History) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return enc.Close()
}
