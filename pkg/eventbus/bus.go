package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/google/uuid"
)

const (
	// Wildcard subscribes a handler to every event type. Wildcard handlers
	// run after the type-specific handlers of a dispatch.
	Wildcard = "*"

	// DefaultHistoryLimit is the number of dispatch results a bus retains.
	DefaultHistoryLimit = 500
)

// Handler processes one event. The returned value becomes the handler's
// result; a non-nil error marks the handler as rejected. ctx carries the
// event being handled, so dispatches made with it are linked as children.
type Handler func(ctx context.Context, ev *Event) (any, error)

// Observer is notified with every finalized dispatch result.
type Observer func(*DispatchResult)

type registration struct {
	id        string
	eventType string
	handler   Handler
	callback  uintptr
	once      bool
	fired     atomic.Bool
}

// Bus is a typed publish/subscribe engine with per-handler timeouts,
// ordered dispatch and causal parent linking.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*registration

	historyMu    sync.Mutex
	history      []*DispatchResult
	historyLimit int

	observers []Observer
	logger    *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryLimit caps the retained dispatch history. Zero disables
// retention entirely.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n < 0 {
			n = 0
		}
		b.historyLimit = n
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver registers fn to receive every finalized dispatch result.
func WithObserver(fn Observer) Option {
	return func(b *Bus) {
		if fn != nil {
			b.observers = append(b.observers, fn)
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers:     make(map[string][]*registration),
		historyLimit: DefaultHistoryLimit,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HandlerOption configures a single registration.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	id             string
	once           bool
	allowDuplicate bool
}

// Once removes the handler after its first invocation.
func Once() HandlerOption {
	return func(c *handlerConfig) { c.once = true }
}

// WithHandlerID overrides the derived handler id.
func WithHandlerID(id string) HandlerOption {
	return func(c *handlerConfig) { c.id = id }
}

// AllowDuplicate permits registering a handler id or callback that is
// already registered for the event type.
func AllowDuplicate() HandlerOption {
	return func(c *handlerConfig) { c.allowDuplicate = true }
}

// On registers h for eventType (or Wildcard) and returns a function that
// removes exactly this registration. Calling it more than once is a no-op.
func (b *Bus) On(eventType string, h Handler, opts ...HandlerOption) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if eventType == "" {
		return nil, fmt.Errorf("eventbus: empty event type")
	}

	cfg := handlerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = defaultHandlerID(eventType, h)
	}

	key := callbackKey(h)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !cfg.allowDuplicate {
		for _, existing := range b.handlers[eventType] {
			if existing.id == cfg.id {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, cfg.id)
			}
			if existing.callback == key {
				return nil, fmt.Errorf("%w: callback already registered as %s", ErrDuplicateHandler, existing.id)
			}
		}
	}

	reg := &registration{
		id:        cfg.id,
		eventType: eventType,
		handler:   h,
		callback:  key,
		once:      cfg.once,
	}
	b.handlers[eventType] = append(b.handlers[eventType], reg)
	b.logger.Debugf("registered handler %s on %s", reg.id, eventType)

	return func() { b.removeRegistration(reg) }, nil
}

// Off removes the handlers with the given ids from eventType, or every
// handler for eventType when no id is given. Unknown ids are ignored.
func (b *Bus) Off(eventType string, handlerIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(handlerIDs) == 0 {
		delete(b.handlers, eventType)
		return
	}

	drop := make(map[string]bool, len(handlerIDs))
	for _, id := range handlerIDs {
		drop[id] = true
	}
	kept := b.handlers[eventType][:0:0]
	for _, reg := range b.handlers[eventType] {
		if !drop[reg.id] {
			kept = append(kept, reg)
		}
	}
	b.setHandlersLocked(eventType, kept)
}

// OffHandler removes every registration of h from eventType. Removing a
// callback that is not registered is a no-op.
func (b *Bus) OffHandler(eventType string, h Handler) {
	if h == nil {
		return
	}
	key := callbackKey(h)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.handlers[eventType][:0:0]
	for _, reg := range b.handlers[eventType] {
		if reg.callback != key {
			kept = append(kept, reg)
		}
	}
	b.setHandlersLocked(eventType, kept)
}

// HandlerCount returns the number of handlers registered for eventType.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// HandlerIDs returns the registered handler ids for eventType in
// registration order.
func (b *Bus) HandlerIDs(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.handlers[eventType]))
	for _, reg := range b.handlers[eventType] {
		ids = append(ids, reg.id)
	}
	return ids
}

func (b *Bus) removeRegistration(target *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[target.eventType]
	for i, reg := range regs {
		if reg == target {
			kept := make([]*registration, 0, len(regs)-1)
			kept = append(kept, regs[:i]...)
			kept = append(kept, regs[i+1:]...)
			b.setHandlersLocked(target.eventType, kept)
			return
		}
	}
}

func (b *Bus) setHandlersLocked(eventType string, regs []*registration) {
	if len(regs) == 0 {
		delete(b.handlers, eventType)
		return
	}
	b.handlers[eventType] = regs
}

// snapshot returns the registrations that should see a dispatch of
// eventType: type-specific handlers first, then wildcard handlers. Once
// handlers are claimed and removed here so concurrent dispatches cannot
// both invoke them.
func (b *Bus) snapshot(eventType string) []*registration {
	b.mu.Lock()
	defer b.mu.Unlock()

	var regs []*registration
	regs = append(regs, b.handlers[eventType]...)
	if eventType != Wildcard {
		regs = append(regs, b.handlers[Wildcard]...)
	}

	selected := regs[:0:0]
	for _, reg := range regs {
		if reg.once {
			if !reg.fired.CompareAndSwap(false, true) {
				continue
			}
			b.dropLocked(reg)
		}
		selected = append(selected, reg)
	}
	return selected
}

func (b *Bus) dropLocked(target *registration) {
	regs := b.handlers[target.eventType]
	for i, reg := range regs {
		if reg == target {
			kept := make([]*registration, 0, len(regs)-1)
			kept = append(kept, regs[:i]...)
			kept = append(kept, regs[i+1:]...)
			b.setHandlersLocked(target.eventType, kept)
			return
		}
	}
}

// anonymousFunc matches closure and method-value symbol names, which are
// not stable identities for a callback.
var anonymousFunc = regexp.MustCompile(`(\.func\d+(\.\d+)*|-fm)$`)

func defaultHandlerID(eventType string, h Handler) string {
	name := ""
	if fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer()); fn != nil {
		name = fn.Name()
	}
	if name == "" || anonymousFunc.MatchString(name) {
		return eventType + ":anon-" + uuid.NewString()[:8]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return eventType + ":" + name
}

// callbackKey identifies the func value behind h. Passing the same closure
// or the same top-level function yields the same key; separately created
// closures do not share one.
func callbackKey(h Handler) uintptr {
	return *(*uintptr)(unsafe.Pointer(&h))
}
