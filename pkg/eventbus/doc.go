// Package eventbus implements the typed publish/subscribe engine that
// coordinates browser session lifecycle, watchdogs and agents.
//
// Handlers are registered per event type with On, or on Wildcard to see
// every event after the type-specific handlers. Dispatch runs handlers in
// registration order, enforces per-handler deadlines, isolates handler
// failures and records a DispatchResult in a bounded history ring.
//
// A handler receives a context carrying the event it is handling. Events
// dispatched with that context are linked to it through ParentID:
//
//	bus.On("PageLoaded", func(ctx context.Context, ev *eventbus.Event) (any, error) {
//		_, err := bus.Dispatch(ctx, eventbus.NewEvent(Indexed{}))
//		return nil, err
//	})
package eventbus
