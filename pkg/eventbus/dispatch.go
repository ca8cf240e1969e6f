package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of a dispatch or of one handler run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
)

// HandlerResult records a single handler execution.
type HandlerResult struct {
	HandlerID string
	Status    Status
	Result    any
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is how long the handler ran before it settled.
func (r HandlerResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// DispatchResult is the record of one dispatch. HandlerResults follows
// handler order (type-specific handlers, then wildcard handlers) even when
// handlers ran in parallel.
type DispatchResult struct {
	Event          *Event
	Status         Status
	StartedAt      time.Time
	EndedAt        time.Time
	Duration       time.Duration
	HandlerResults []HandlerResult
	Errors         []error
}

// DispatchOption configures one Dispatch call.
type DispatchOption func(*dispatchConfig)

type dispatchConfig struct {
	timeout     *time.Duration
	parallel    bool
	throwOnErr  bool
	parentID    string
	parentIDSet bool
}

// WithTimeout overrides the event's own timeout for every handler of this
// dispatch. A non-positive value disables the deadline.
func WithTimeout(d time.Duration) DispatchOption {
	return func(c *dispatchConfig) { c.timeout = &d }
}

// ParallelHandlers starts every handler before waiting on any of them.
func ParallelHandlers() DispatchOption {
	return func(c *dispatchConfig) { c.parallel = true }
}

// ThrowOnError makes Dispatch return a *DispatchError when any handler
// failed.
func ThrowOnError() DispatchOption {
	return func(c *dispatchConfig) { c.throwOnErr = true }
}

// WithParentID sets the parent explicitly instead of inferring it from ctx.
func WithParentID(id string) DispatchOption {
	return func(c *dispatchConfig) {
		c.parentID = id
		c.parentIDSet = true
	}
}

// Dispatch publishes ev to every handler registered for its type, followed
// by wildcard handlers. Handlers run one after another in registration order
// unless ParallelHandlers is given. Handler failures are isolated and
// collected in the result; the returned error is non-nil only when
// ThrowOnError was requested and at least one handler failed.
func (b *Bus) Dispatch(ctx context.Context, ev *Event, opts ...DispatchOption) (*DispatchResult, error) {
	if ev == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := dispatchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.prepare(ctx, ev, cfg)

	timeout, hasTimeout := secondsToDuration(ev.Timeout)
	if cfg.timeout != nil {
		timeout, hasTimeout = *cfg.timeout, *cfg.timeout > 0
	}

	regs := b.snapshot(ev.Type)
	result := &DispatchResult{
		Event:     ev,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}

	hctx := withCurrentEvent(ctx, ev)
	runner := func(reg *registration) HandlerResult {
		return b.runHandler(hctx, ev, reg, timeout, hasTimeout)
	}

	if cfg.parallel {
		result.HandlerResults = runParallel(regs, runner)
	} else {
		result.HandlerResults = make([]HandlerResult, 0, len(regs))
		for _, reg := range regs {
			result.HandlerResults = append(result.HandlerResults, runner(reg))
		}
	}

	b.finalize(result)

	if cfg.throwOnErr && len(result.Errors) > 0 {
		return result, &DispatchError{Result: result}
	}
	return result, nil
}

// DispatchOrError is Dispatch with ThrowOnError forced on.
func (b *Bus) DispatchOrError(ctx context.Context, ev *Event, opts ...DispatchOption) (*DispatchResult, error) {
	return b.Dispatch(ctx, ev, append(opts, ThrowOnError())...)
}

func (b *Bus) prepare(ctx context.Context, ev *Event, cfg dispatchConfig) {
	ev.Type = resolveType(ev)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	switch {
	case cfg.parentIDSet:
		ev.ParentID = cfg.parentID
	case ev.ParentID == "":
		if parent, ok := CurrentEvent(ctx); ok && parent.ID != ev.ID {
			ev.ParentID = parent.ID
		}
	}
}

func runParallel(regs []*registration, run func(*registration) HandlerResult) []HandlerResult {
	results := make([]HandlerResult, len(regs))
	var g errgroup.Group
	for i, reg := range regs {
		g.Go(func() error {
			results[i] = run(reg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type handlerOutcome struct {
	value any
	err   error
}

// runHandler races the handler against its deadline and the caller's
// context. A handler that outlives its deadline keeps running in its own
// goroutine with a cancelled context; its late result is discarded.
func (b *Bus) runHandler(ctx context.Context, ev *Event, reg *registration, timeout time.Duration, hasTimeout bool) HandlerResult {
	hr := HandlerResult{
		HandlerID: reg.id,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Errorf("handler %s panicked on %s: %v\n%s", reg.id, ev.Type, r, debug.Stack())
				done <- handlerOutcome{err: fmt.Errorf("eventbus: handler %s panicked: %v", reg.id, r)}
			}
		}()
		v, err := reg.handler(hctx, ev)
		done <- handlerOutcome{value: v, err: err}
	}()

	var timer <-chan time.Time
	if hasTimeout {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-done:
		hr.Result = out.value
		hr.Err = out.err
		if out.err != nil {
			hr.Status = StatusRejected
			if IsTimeout(out.err) {
				hr.Status = StatusTimedOut
			}
		} else {
			hr.Status = StatusFulfilled
		}
	case <-timer:
		hr.Status = StatusTimedOut
		hr.Err = &HandlerTimeoutError{EventType: ev.Type, HandlerID: reg.id, Timeout: timeout}
		b.logger.Warnf("%v", hr.Err)
	case <-ctx.Done():
		hr.Status = StatusRejected
		hr.Err = fmt.Errorf("eventbus: handler %s for %s abandoned: %w", reg.id, ev.Type, ctx.Err())
	}

	hr.EndedAt = time.Now()
	return hr
}

func (b *Bus) finalize(result *DispatchResult) {
	timedOut := false
	var firstValue any
	haveValue := false
	for _, hr := range result.HandlerResults {
		switch hr.Status {
		case StatusFulfilled:
			if !haveValue {
				firstValue, haveValue = hr.Result, true
			}
		case StatusTimedOut:
			timedOut = true
			result.Errors = append(result.Errors, hr.Err)
		default:
			result.Errors = append(result.Errors, hr.Err)
		}
	}

	switch {
	case len(result.Errors) == 0:
		result.Status = StatusFulfilled
	case timedOut:
		result.Status = StatusTimedOut
	default:
		result.Status = StatusRejected
	}

	if haveValue {
		result.Event.setResult(firstValue)
	}
	if len(result.Errors) > 0 {
		result.Event.setErr(result.Errors[0])
	}

	result.EndedAt = time.Now()
	result.Duration = result.EndedAt.Sub(result.StartedAt)

	if len(result.Errors) > 0 {
		b.logger.Debugf("dispatch %s (%s) %s with %d error(s)", result.Event.Type, result.Event.ID, result.Status, len(result.Errors))
	}

	b.record(result)
	for _, obs := range b.observers {
		b.notify(obs, result)
	}
}

func (b *Bus) notify(obs Observer, result *DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("dispatch observer panicked: %v", r)
		}
	}()
	obs(result)
}

func (b *Bus) record(result *DispatchResult) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	if b.historyLimit == 0 {
		return
	}
	b.history = append(b.history, result)
	if over := len(b.history) - b.historyLimit; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
}

// History returns the retained dispatch results, oldest first.
func (b *Bus) History() []*DispatchResult {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	out := make([]*DispatchResult, len(b.history))
	copy(out, b.history)
	return out
}

// SetHistoryLimit changes the history cap, pruning the oldest entries
// immediately. Zero drops all retained history.
func (b *Bus) SetHistoryLimit(n int) {
	if n < 0 {
		n = 0
	}
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.historyLimit = n
	if over := len(b.history) - n; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
}

// Err returns the dispatch errors joined into one, or nil.
func (r *DispatchResult) Err() error {
	return errors.Join(r.Errors...)
}
