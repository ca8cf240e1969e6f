// Package agent runs the browser step loop: observe the focused tab, ask the
// model for the next action, execute it, and repeat until the model calls
// done or a step or failure limit is reached.
//
//	session := browser.NewSession(cfg.Browser, browser.NewPlaywrightDriver())
//	ag, err := agent.New("Find the cheapest flight to Lisbon", session, client)
//	history, err := ag.Run(ctx)
package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/entrhq/browseruse/pkg/agent/prompts"
	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/entrhq/browseruse/pkg/llm/tokenizer"
	"github.com/entrhq/browseruse/pkg/logging"
	actions "github.com/entrhq/browseruse/pkg/tools/browser"
)

var agentLog *logging.Logger

func init() {
	var err error
	agentLog, err = logging.NewLogger("agent")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		agentLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

// ErrSessionClaimed is returned by Run when the session cannot be claimed
// in the requested mode.
var ErrSessionClaimed = errors.New("agent: browser session is claimed by another agent")

const (
	defaultMaxSteps          = 100
	defaultMaxFailures       = 3
	defaultMaxHistoryTokens  = 64000
	defaultRequestsPerMinute = 0
)

// Agent drives one task through a browser session.
type Agent struct {
	id       string
	task     string
	session  *browser.Session
	client   llm.Client
	registry *actions.Registry

	maxSteps    int
	maxFailures int
	claimMode   browser.ClaimMode
	stepTimeout time.Duration
	limiter     *rate.Limiter

	sensitiveData      map[string]map[string]string
	extractionLLM      llm.Client
	fileSystem         actions.FileSystem
	availableFilePaths []string
	customInstructions string

	tokenizer        *tokenizer.Tokenizer
	maxHistoryTokens int
	logger           *logging.Logger
	now              func() time.Time

	// Step state. Run and Step are not safe for concurrent use on the
	// same agent; mu guards what History and Stop read.
	mu                  sync.Mutex
	memory              *conversation
	history             *History
	stepNum             int
	consecutiveFailures int
	errorContext        string
	pendingResult       string
	stopped             bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithID sets the agent id used for claims and logging.
func WithID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.id = id
		}
	}
}

// WithRegistry sets the action registry. The default holds the built-in
// actions.
func WithRegistry(r *actions.Registry) Option {
	return func(a *Agent) {
		a.registry = r
	}
}

// WithMaxSteps sets the step budget for Run.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		a.maxSteps = n
	}
}

// WithMaxFailures sets how many consecutive failed steps end Run.
func WithMaxFailures(n int) Option {
	return func(a *Agent) {
		a.maxFailures = n
	}
}

// WithClaimMode sets how the agent claims its session.
func WithClaimMode(mode browser.ClaimMode) Option {
	return func(a *Agent) {
		a.claimMode = mode
	}
}

// WithStepTimeout bounds each step. Zero means no bound.
func WithStepTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.stepTimeout = d
	}
}

// WithRequestsPerMinute rate limits model calls. Zero disables limiting.
func WithRequestsPerMinute(rpm float64) Option {
	return func(a *Agent) {
		if rpm <= 0 {
			a.limiter = nil
			return
		}
		a.limiter = rate.NewLimiter(rate.Limit(rpm/60), 1)
	}
}

// WithLimiter sets the model call limiter directly.
func WithLimiter(l *rate.Limiter) Option {
	return func(a *Agent) {
		a.limiter = l
	}
}

// WithSensitiveData sets the placeholder values substituted into action
// parameters, keyed by domain pattern.
func WithSensitiveData(data map[string]map[string]string) Option {
	return func(a *Agent) {
		a.sensitiveData = data
	}
}

// WithExtractionLLM sets the model used by extract_content.
func WithExtractionLLM(c llm.Client) Option {
	return func(a *Agent) {
		a.extractionLLM = c
	}
}

// WithFileSystem sets the storage behind read_file and write_file.
func WithFileSystem(fs actions.FileSystem) Option {
	return func(a *Agent) {
		a.fileSystem = fs
	}
}

// WithAvailableFilePaths lists files the agent may read outside its file
// system.
func WithAvailableFilePaths(paths []string) Option {
	return func(a *Agent) {
		a.availableFilePaths = paths
	}
}

// WithCustomInstructions adds user instructions to the system prompt.
func WithCustomInstructions(instructions string) Option {
	return func(a *Agent) {
		a.customInstructions = instructions
	}
}

// WithTokenizer sets the tokenizer used to keep the conversation within
// the history token budget. Without one, tokens are approximated.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(a *Agent) {
		a.tokenizer = t
	}
}

// WithMaxHistoryTokens sets the conversation token budget.
func WithMaxHistoryTokens(n int) Option {
	return func(a *Agent) {
		a.maxHistoryTokens = n
	}
}

// WithLogger sets the agent logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSettings applies the agent section of the configuration.
func WithSettings(s config.AgentSettings) Option {
	return func(a *Agent) {
		if s.MaxSteps > 0 {
			a.maxSteps = s.MaxSteps
		}
		if s.MaxFailures > 0 {
			a.maxFailures = s.MaxFailures
		}
		if s.ClaimMode != "" {
			a.claimMode = browser.ClaimMode(s.ClaimMode)
		}
		a.stepTimeout = s.StepTimeout
		WithRequestsPerMinute(s.RequestsPerMinute)(a)
		if len(s.SensitiveData) > 0 {
			a.sensitiveData = s.SensitiveData
		}
		if len(s.AvailableFilePaths) > 0 {
			a.availableFilePaths = s.AvailableFilePaths
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// New creates an agent for task on session, deciding with client.
func New(task string, session *browser.Session, client llm.Client, opts ...Option) (*Agent, error) {
	if task == "" {
		return nil, errors.New("agent: task is required")
	}
	if session == nil {
		return nil, errors.New("agent: session is required")
	}
	if client == nil {
		return nil, errors.New("agent: llm client is required")
	}

	a := &Agent{
		id:               "agent-" + uuid.NewString()[:8],
		task:             task,
		session:          session,
		client:           client,
		maxSteps:         defaultMaxSteps,
		maxFailures:      defaultMaxFailures,
		claimMode:        browser.ClaimExclusive,
		maxHistoryTokens: defaultMaxHistoryTokens,
		logger:           agentLog,
		now:              time.Now,
	}
	WithRequestsPerMinute(defaultRequestsPerMinute)(a)
	for _, opt := range opts {
		opt(a)
	}

	if a.registry == nil {
		a.registry = actions.NewDefaultRegistry(actions.WithLogger(a.logger.With("actions")))
	}
	if _, err := browser.ParseClaimMode(string(a.claimMode)); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	if a.maxSteps <= 0 {
		return nil, fmt.Errorf("agent: max steps must be positive, got %d", a.maxSteps)
	}
	if a.maxFailures <= 0 {
		return nil, fmt.Errorf("agent: max failures must be positive, got %d", a.maxFailures)
	}

	a.memory = newConversation(a.tokenizer, a.maxHistoryTokens)
	a.history = &History{AgentID: a.id, Task: a.task}
	return a, nil
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Task returns the task the agent works on.
func (a *Agent) Task() string { return a.task }

// History returns a copy of the steps run so far.
func (a *Agent) History() *History {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.clone()
}

// Stop asks Run to return after the current step.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

func (a *Agent) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Run claims the session and steps until the task is done, the step budget
// is spent, MaxFailures consecutive steps fail, or ctx ends. The claim is
// released on every path. The returned error is non-nil only when the run
// could not start or was aborted.
func (a *Agent) Run(ctx context.Context) (*History, error) {
	if !a.session.ClaimAgent(a.id, a.claimMode) {
		return a.History(), ErrSessionClaimed
	}
	defer func() {
		if !a.session.ReleaseAgent(a.id) {
			a.logger.Warnf("Agent %s could not release session %s", a.id, a.session.ID())
		}
	}()

	a.logger.Infof("Agent %s starting task (max_steps=%d, claim=%s): %s", a.id, a.maxSteps, a.claimMode, a.task)
	start := a.now()

	reason, err := a.loop(ctx)

	a.mu.Lock()
	a.history.StopReason = reason
	a.history.Duration = a.now().Sub(start)
	a.mu.Unlock()

	h := a.History()
	a.logger.Infof("Agent %s finished after %d step(s): %s (success=%v)", a.id, len(h.Steps), reason, h.IsSuccessful())
	return h, err
}

func (a *Agent) loop(ctx context.Context) (StopReason, error) {
	for {
		if a.isStopped() {
			return StopStopped, nil
		}
		if err := ctx.Err(); err != nil {
			return StopAborted, err
		}
		if a.stepCount() >= a.maxSteps {
			a.logger.Warnf("Agent %s reached max steps (%d)", a.id, a.maxSteps)
			return StopMaxSteps, nil
		}

		result, err := a.Step(ctx)
		if err != nil {
			return StopAborted, err
		}
		if result.IsDone() {
			return StopDone, nil
		}
		if a.failures() >= a.maxFailures {
			a.logger.Errorf("Agent %s stopping after %d consecutive failures", a.id, a.maxFailures)
			return StopMaxFailures, nil
		}
	}
}

func (a *Agent) stepCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stepNum
}

func (a *Agent) failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveFailures
}

// actionSpecs lists the registry's actions for the system prompt.
func (a *Agent) actionSpecs() []prompts.ActionSpec {
	registered := a.registry.Actions()
	specs := make([]prompts.ActionSpec, 0, len(registered))
	for _, act := range registered {
		specs = append(specs, prompts.ActionSpec{Name: act.Name, Description: act.Description, Schema: act.Schema})
	}
	return specs
}

func (a *Agent) actionNames() []string {
	registered := a.registry.Actions()
	names := make([]string, 0, len(registered))
	for _, act := range registered {
		names = append(names, act.Name)
	}
	return names
}

// sensitiveKeys returns the placeholder names across all domains.
func (a *Agent) sensitiveKeys() []string {
	seen := make(map[string]bool)
	for _, values := range a.sensitiveData {
		for k := range maps.Keys(values) {
			seen[k] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
