package eventbus

import (
	"math"
	"reflect"
	"sync"
	"time"
)

// Typed is implemented by payloads that name their own event type.
type Typed interface {
	EventType() string
}

// Event is a single occurrence published on a Bus.
//
// Type, ID and CreatedAt are filled in by Dispatch when left empty.
// ParentID is inferred from the dispatch context of the handler that
// published the event, when there is one.
type Event struct {
	// Type is the routing tag handlers subscribe to.
	Type string

	// ID is unique per bus instance.
	ID string

	// ParentID links to the event whose handler dispatched this one.
	ParentID string

	// Timeout is the per-handler deadline in seconds. Zero, negative,
	// NaN and infinite values mean no deadline.
	Timeout float64

	// CreatedAt is when the event was constructed.
	CreatedAt time.Time

	// Payload carries the event-specific data.
	Payload any

	mu        sync.Mutex
	sealed    bool
	result    any
	resultSet bool
	err       error
}

// NewEvent wraps payload in an Event. The type is resolved from the payload
// at dispatch time.
func NewEvent(payload any) *Event {
	return &Event{Payload: payload, CreatedAt: time.Now()}
}

// Seal freezes the event's result fields. Later back-fill attempts by the
// bus are dropped without error.
func (e *Event) Seal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealed = true
}

// Result returns the value of the first handler that fulfilled.
func (e *Event) Result() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Err returns the error of the first handler that failed.
func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Event) setResult(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed || e.resultSet {
		return
	}
	e.result = v
	e.resultSet = true
}

func (e *Event) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed || e.err != nil {
		return
	}
	e.err = err
}

// TimeoutMillis converts the event's timeout to milliseconds. The boolean is
// false when the event carries no usable deadline.
func (e *Event) TimeoutMillis() (int64, bool) {
	d, ok := secondsToDuration(e.Timeout)
	if !ok {
		return 0, false
	}
	return d.Milliseconds(), true
}

// PayloadAs returns the payload as T when it has that type.
func PayloadAs[T any](e *Event) (T, bool) {
	v, ok := e.Payload.(T)
	return v, ok
}

func secondsToDuration(seconds float64) (time.Duration, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, false
	}
	if seconds >= float64(math.MaxInt64)/float64(time.Second) {
		return math.MaxInt64, true
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// resolveType picks the routing tag: the explicit Type, then the payload's
// own EventType, then the payload's Go type name.
func resolveType(e *Event) string {
	if e.Type != "" {
		return e.Type
	}
	if typed, ok := e.Payload.(Typed); ok {
		if name := typed.EventType(); name != "" {
			return name
		}
	}
	if e.Payload != nil {
		t := reflect.TypeOf(e.Payload)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Name() != "" {
			return t.Name()
		}
	}
	return "Event"
}
