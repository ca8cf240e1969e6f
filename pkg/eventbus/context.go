package eventbus

import "context"

type currentEventKey struct{}

func withCurrentEvent(ctx context.Context, ev *Event) context.Context {
	return context.WithValue(ctx, currentEventKey{}, ev)
}

// CurrentEvent returns the event whose handler is running under ctx.
// Dispatches made with a handler's ctx use it as their parent.
func CurrentEvent(ctx context.Context) (*Event, bool) {
	if ctx == nil {
		return nil, false
	}
	ev, ok := ctx.Value(currentEventKey{}).(*Event)
	return ev, ok && ev != nil
}
