package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	browsercore "github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/logging"
)

// Registry holds the actions available to an agent.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	order   []string

	secrets *secretMatcher
	logger  *logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		actions: make(map[string]Action),
		secrets: newSecretMatcher(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.MustLogger("actions")
	}
	return r
}

// NewDefaultRegistry creates a registry holding the built-in actions.
func NewDefaultRegistry(opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	for _, a := range builtinActions() {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an action. Names must be unique.
func (r *Registry) Register(action Action) error {
	if action.Name == "" {
		return errors.New("action name is required")
	}
	if action.Handler == nil {
		return fmt.Errorf("action %s has no handler", action.Name)
	}
	if action.Schema == nil {
		action.Schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.Name]; exists {
		return fmt.Errorf("action %s already registered", action.Name)
	}
	r.actions[action.Name] = action
	r.order = append(r.order, action.Name)
	return nil
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Actions returns the registered actions in registration order.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name])
	}
	return out
}

// ExecuteAction validates params and runs the named action.
func (r *Registry) ExecuteAction(ctx context.Context, name string, params map[string]any, actx *ActionContext) (*ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AbortError{Action: name, Err: err}
	}

	action, ok := r.Get(name)
	if !ok {
		return nil, &ActionNotFoundError{Name: name}
	}

	validated, err := validateParams(action, params)
	if err != nil {
		return nil, err
	}

	if actx == nil {
		actx = &ActionContext{}
	}
	if len(actx.SensitiveData) > 0 {
		validated = r.applySecrets(name, validated, actx)
	}

	r.logger.Debugf("Executing %s for agent %s", name, actx.AgentID)
	result, err := action.Handler(ctx, validated, actx)
	if err != nil {
		return nil, r.classify(ctx, name, err)
	}
	if result == nil {
		result = &ActionResult{}
	}

	if actx.Session != nil && actx.AgentID != "" {
		actx.Session.RememberFocus(actx.AgentID)
	}
	return result, nil
}

func (r *Registry) classify(ctx context.Context, name string, err error) error {
	var abort *AbortError
	if errors.As(err, &abort) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &AbortError{Action: name, Err: err}
	}
	if browsercore.IsBrowserError(err) {
		return err
	}
	return &ActionError{Action: name, Err: err}
}

func (r *Registry) applySecrets(name string, params Params, actx *ActionContext) Params {
	var pageURL string
	if actx.Session != nil {
		if tab, ok := actx.Session.FocusedTab(); ok {
			pageURL = tab.URL
		}
	}

	allowed := r.secrets.allowed(actx.SensitiveData, pageURL)
	out, used, missing := substitute(params, allowed)
	if len(used) > 0 {
		r.logger.Infof("Using sensitive data %v in %s on %s", used, name, pageURL)
	}
	if len(missing) > 0 {
		r.logger.Warnf("Missing or disallowed sensitive data %v in %s on %s", missing, name, pageURL)
	}
	return out
}
