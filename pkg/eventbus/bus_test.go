package eventbus

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fooPayload struct{ N int }

type namedPayload struct{}

func (namedPayload) EventType() string { return "Named" }

func namedHandler(ctx context.Context, ev *Event) (any, error) { return "named", nil }

func TestDispatchSequentialOrder(t *testing.T) {
	bus := New()

	_, err := bus.On("Foo", func(ctx context.Context, ev *Event) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "ok", nil
	}, WithHandlerID("h1"))
	require.NoError(t, err)
	_, err = bus.On("Foo", func(ctx context.Context, ev *Event) (any, error) {
		return "fast", nil
	}, WithHandlerID("h2"))
	require.NoError(t, err)

	res, err := bus.Dispatch(context.Background(), &Event{Type: "Foo"})
	require.NoError(t, err)

	require.Len(t, res.HandlerResults, 2)
	assert.Equal(t, "h1", res.HandlerResults[0].HandlerID)
	assert.Equal(t, "h2", res.HandlerResults[1].HandlerID)
	assert.Equal(t, StatusFulfilled, res.HandlerResults[0].Status)
	assert.Equal(t, StatusFulfilled, res.HandlerResults[1].Status)
	assert.Equal(t, StatusFulfilled, res.Status)
	assert.Equal(t, "ok", res.Event.Result())
	assert.False(t, res.HandlerResults[1].StartedAt.Before(res.HandlerResults[0].EndedAt))
}

func TestDispatchHandlerTimeout(t *testing.T) {
	bus := New()
	_, err := bus.On("Slow", func(ctx context.Context, ev *Event) (any, error) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil, nil
	}, WithHandlerID("slow"))
	require.NoError(t, err)

	start := time.Now()
	res, err := bus.Dispatch(context.Background(), &Event{Type: "Slow", Timeout: 0.01})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, StatusTimedOut, res.Status)
	require.Len(t, res.Errors, 1)

	var te *HandlerTimeoutError
	require.ErrorAs(t, res.Errors[0], &te)
	assert.Equal(t, "Slow", te.EventType)
	assert.Equal(t, "slow", te.HandlerID)
	assert.Equal(t, 10*time.Millisecond, te.Timeout)
	assert.True(t, IsTimeout(res.Event.Err()))
}

func TestDispatchTimeoutOverride(t *testing.T) {
	bus := New()
	_, err := bus.On("Slow", func(ctx context.Context, ev *Event) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "done", nil
	})
	require.NoError(t, err)

	// A disabled override wins over the event's own deadline.
	res, err := bus.Dispatch(context.Background(), &Event{Type: "Slow", Timeout: 0.001}, WithTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, res.Status)

	res, err = bus.Dispatch(context.Background(), &Event{Type: "Slow"}, WithTimeout(5*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
}

func TestDispatchIgnoresUnusableTimeouts(t *testing.T) {
	bus := New()
	_, err := bus.On("T", func(ctx context.Context, ev *Event) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)

	for _, timeout := range []float64{-1, math.NaN(), math.Inf(1), 0} {
		res, err := bus.Dispatch(context.Background(), &Event{Type: "T", Timeout: timeout})
		require.NoError(t, err)
		assert.Equal(t, StatusFulfilled, res.Status, "timeout %v", timeout)
	}
}

func TestDispatchClampsHugeTimeouts(t *testing.T) {
	bus := New()
	_, err := bus.On("T", func(ctx context.Context, ev *Event) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)

	for _, timeout := range []float64{1e10, 1e12, math.MaxFloat64} {
		ev := &Event{Type: "T", Timeout: timeout}
		res, err := bus.Dispatch(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, StatusFulfilled, res.Status, "timeout %v", timeout)

		ms, ok := ev.TimeoutMillis()
		assert.True(t, ok)
		assert.Positive(t, ms)
	}
}

func TestHandlerErrorIsolation(t *testing.T) {
	bus := New()
	var ran []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, name)
	}

	_, _ = bus.On("E", func(ctx context.Context, ev *Event) (any, error) {
		record("a")
		return nil, errors.New("boom")
	}, WithHandlerID("a"))
	_, _ = bus.On("E", func(ctx context.Context, ev *Event) (any, error) {
		record("b")
		panic("kaboom")
	}, WithHandlerID("b"))
	_, _ = bus.On("E", func(ctx context.Context, ev *Event) (any, error) {
		record("c")
		return 42, nil
	}, WithHandlerID("c"))

	res, err := bus.Dispatch(context.Background(), &Event{Type: "E"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ran)
	assert.Equal(t, StatusRejected, res.Status)
	require.Len(t, res.Errors, 2)
	assert.EqualError(t, res.Errors[0], "boom")
	assert.Contains(t, res.Errors[1].Error(), "panicked")
	assert.Equal(t, 42, res.Event.Result())
	assert.EqualError(t, res.Event.Err(), "boom")
}

func TestTimeoutWinsOverRejectionInAggregate(t *testing.T) {
	bus := New()
	_, _ = bus.On("M", func(ctx context.Context, ev *Event) (any, error) {
		return nil, errors.New("plain")
	}, WithHandlerID("err"))
	_, _ = bus.On("M", func(ctx context.Context, ev *Event) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithHandlerID("hang"))

	res, err := bus.Dispatch(context.Background(), &Event{Type: "M"}, WithTimeout(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Len(t, res.Errors, 2)
}

func TestDispatchOrError(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	_, _ = bus.On("E", func(ctx context.Context, ev *Event) (any, error) {
		return nil, boom
	})

	res, err := bus.DispatchOrError(context.Background(), &Event{Type: "E"})
	require.Error(t, err)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Same(t, res, de.Result)
	assert.ErrorIs(t, err, boom)

	_, err = bus.Dispatch(context.Background(), &Event{Type: "E"})
	assert.NoError(t, err, "errors are aggregated, not returned, by default")
}

func TestWildcardRunsAfterTypedHandlers(t *testing.T) {
	bus := New()
	var order []string

	_, _ = bus.On(Wildcard, func(ctx context.Context, ev *Event) (any, error) {
		order = append(order, "wild")
		return nil, nil
	}, WithHandlerID("wild"))
	_, _ = bus.On("Foo", func(ctx context.Context, ev *Event) (any, error) {
		order = append(order, "foo")
		return nil, nil
	}, WithHandlerID("foo"))

	_, err := bus.Dispatch(context.Background(), &Event{Type: "Foo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "wild"}, order)

	order = nil
	_, err = bus.Dispatch(context.Background(), &Event{Type: Wildcard})
	require.NoError(t, err)
	assert.Equal(t, []string{"wild"}, order)
}

func TestParentLinking(t *testing.T) {
	bus := New()
	var child *Event

	_, _ = bus.On("A", func(ctx context.Context, ev *Event) (any, error) {
		child = &Event{Type: "B"}
		_, err := bus.Dispatch(ctx, child)
		return nil, err
	})
	_, _ = bus.On("B", func(ctx context.Context, ev *Event) (any, error) {
		current, ok := CurrentEvent(ctx)
		if assert.True(t, ok) {
			assert.Equal(t, "B", current.Type)
		}
		return nil, nil
	})

	parent := &Event{Type: "A"}
	_, err := bus.Dispatch(context.Background(), parent)
	require.NoError(t, err)

	require.NotNil(t, child)
	assert.NotEmpty(t, parent.ID)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Empty(t, parent.ParentID)
}

func TestExplicitParentWins(t *testing.T) {
	bus := New()
	var child *Event
	_, _ = bus.On("A", func(ctx context.Context, ev *Event) (any, error) {
		child = &Event{Type: "B"}
		_, err := bus.Dispatch(ctx, child, WithParentID("root"))
		return nil, err
	})

	_, err := bus.Dispatch(context.Background(), &Event{Type: "A"})
	require.NoError(t, err)
	assert.Equal(t, "root", child.ParentID)
}

func TestParallelHandlers(t *testing.T) {
	bus := New()
	var running, peak atomic.Int32
	h := func(ctx context.Context, ev *Event) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := bus.On("P", h, WithHandlerID(id), AllowDuplicate())
		require.NoError(t, err)
	}

	start := time.Now()
	res, err := bus.Dispatch(context.Background(), &Event{Type: "P"}, ParallelHandlers())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 80*time.Millisecond)
	assert.Greater(t, peak.Load(), int32(1))
	require.Len(t, res.HandlerResults, 3)
	assert.Equal(t, "p1", res.HandlerResults[0].HandlerID)
	assert.Equal(t, "p3", res.HandlerResults[2].HandlerID)
}

func TestOnceHandler(t *testing.T) {
	bus := New()
	var calls atomic.Int32
	_, err := bus.On("O", func(ctx context.Context, ev *Event) (any, error) {
		calls.Add(1)
		return nil, nil
	}, Once())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := bus.Dispatch(context.Background(), &Event{Type: "O"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, bus.HandlerCount("O"))
}

func TestDuplicateRegistration(t *testing.T) {
	bus := New()

	_, err := bus.On("D", namedHandler)
	require.NoError(t, err)
	_, err = bus.On("D", namedHandler)
	assert.ErrorIs(t, err, ErrDuplicateHandler)

	_, err = bus.On("D", namedHandler, AllowDuplicate())
	assert.NoError(t, err)
	assert.Equal(t, 2, bus.HandlerCount("D"))

	_, err = bus.On("D", func(ctx context.Context, ev *Event) (any, error) { return nil, nil }, WithHandlerID("x"))
	require.NoError(t, err)
	_, err = bus.On("D", func(ctx context.Context, ev *Event) (any, error) { return nil, nil }, WithHandlerID("x"))
	assert.ErrorIs(t, err, ErrDuplicateHandler)

	anon := func(ctx context.Context, ev *Event) (any, error) { return nil, nil }
	_, err = bus.On("D", anon)
	require.NoError(t, err)
	_, err = bus.On("D", anon)
	assert.ErrorIs(t, err, ErrDuplicateHandler, "the same closure is a duplicate even with a generated id")
	_, err = bus.On("D", anon, WithHandlerID("renamed"))
	assert.ErrorIs(t, err, ErrDuplicateHandler)
	_, err = bus.On("D", anon, AllowDuplicate())
	assert.NoError(t, err)
	_, err = bus.On("Other", anon)
	assert.NoError(t, err, "duplicates are per event type")

	_, err = bus.On("D", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestOffHandlerByCallback(t *testing.T) {
	bus := New()
	first := func(ctx context.Context, ev *Event) (any, error) { return "first", nil }
	second := func(ctx context.Context, ev *Event) (any, error) { return "second", nil }

	_, err := bus.On("R", first, WithHandlerID("first"))
	require.NoError(t, err)
	_, err = bus.On("R", second, WithHandlerID("second"))
	require.NoError(t, err)
	_, err = bus.On("R", first, WithHandlerID("first-again"), AllowDuplicate())
	require.NoError(t, err)

	bus.OffHandler("R", first)
	assert.Equal(t, []string{"second"}, bus.HandlerIDs("R"))

	bus.OffHandler("R", first)
	bus.OffHandler("R", nil)
	bus.OffHandler("Missing", second)
	assert.Equal(t, []string{"second"}, bus.HandlerIDs("R"))

	bus.OffHandler("R", second)
	assert.Zero(t, bus.HandlerCount("R"))
}

func TestDefaultHandlerIDs(t *testing.T) {
	bus := New()

	_, err := bus.On("Named", namedHandler)
	require.NoError(t, err)
	_, err = bus.On("Named", func(ctx context.Context, ev *Event) (any, error) { return nil, nil })
	require.NoError(t, err)

	ids := bus.HandlerIDs("Named")
	require.Len(t, ids, 2)
	assert.Equal(t, "Named:eventbus.namedHandler", ids[0])
	assert.True(t, strings.HasPrefix(ids[1], "Named:anon-"), ids[1])
}

func TestOffAndUnsubscribe(t *testing.T) {
	bus := New()
	unsubscribe, err := bus.On("X", namedHandler, WithHandlerID("one"))
	require.NoError(t, err)
	_, err = bus.On("X", namedHandler, WithHandlerID("two"), AllowDuplicate())
	require.NoError(t, err)
	_, err = bus.On("X", namedHandler, WithHandlerID("three"), AllowDuplicate())
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, []string{"two", "three"}, bus.HandlerIDs("X"))

	bus.Off("X", "missing")
	bus.Off("X", "two")
	assert.Equal(t, []string{"three"}, bus.HandlerIDs("X"))

	bus.Off("X")
	assert.Zero(t, bus.HandlerCount("X"))
	bus.Off("X")
}

func TestTypeResolution(t *testing.T) {
	bus := New()

	ev := NewEvent(namedPayload{})
	_, err := bus.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "Named", ev.Type)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	ev = NewEvent(&fooPayload{N: 1})
	_, err = bus.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "fooPayload", ev.Type)

	p, ok := PayloadAs[*fooPayload](ev)
	require.True(t, ok)
	assert.Equal(t, 1, p.N)

	ev = &Event{}
	_, err = bus.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "Event", ev.Type)
}

func TestSealedEventDropsBackfill(t *testing.T) {
	bus := New()
	_, _ = bus.On("S", func(ctx context.Context, ev *Event) (any, error) {
		return "value", nil
	})

	ev := &Event{Type: "S"}
	ev.Seal()
	res, err := bus.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, res.Status)
	assert.Equal(t, "value", res.HandlerResults[0].Result)
	assert.Nil(t, ev.Result())
}

func TestHistoryRing(t *testing.T) {
	bus := New(WithHistoryLimit(3))
	var ids []string
	for i := 0; i < 5; i++ {
		ev := &Event{Type: "H"}
		_, err := bus.Dispatch(context.Background(), ev)
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	history := bus.History()
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].Event.ID)
	assert.Equal(t, ids[4], history[2].Event.ID)

	bus.SetHistoryLimit(1)
	require.Len(t, bus.History(), 1)
	assert.Equal(t, ids[4], bus.History()[0].Event.ID)
}

func TestHistoryDisabled(t *testing.T) {
	bus := New(WithHistoryLimit(0))
	_, err := bus.Dispatch(context.Background(), &Event{Type: "H"})
	require.NoError(t, err)
	assert.Empty(t, bus.History())

	assert.Len(t, New().History(), 0)
}

func TestObserverReceivesResults(t *testing.T) {
	var seen []*DispatchResult
	bus := New(WithObserver(func(r *DispatchResult) { seen = append(seen, r) }))

	res, err := bus.Dispatch(context.Background(), &Event{Type: "Obs"})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Same(t, res, seen[0])
}

func TestCancelledContextRejectsHandler(t *testing.T) {
	bus := New()
	release := make(chan struct{})
	defer close(release)
	_, _ = bus.On("C", func(ctx context.Context, ev *Event) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res, err := bus.Dispatch(ctx, &Event{Type: "C"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.ErrorIs(t, res.Errors[0], context.Canceled)
}

func TestTimeoutMillis(t *testing.T) {
	ms, ok := (&Event{Timeout: 0.25}).TimeoutMillis()
	assert.True(t, ok)
	assert.Equal(t, int64(250), ms)

	_, ok = (&Event{Timeout: -3}).TimeoutMillis()
	assert.False(t, ok)
}
