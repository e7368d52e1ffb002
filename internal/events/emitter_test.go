package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitReachesAllSubscribers(t *testing.T) {
	em := NewEmitter()

	var got1, got2 []Kind
	em.Subscribe(func(ev Event) { got1 = append(got1, ev.Kind) })
	em.Subscribe(func(ev Event) { got2 = append(got2, ev.Kind) })

	em.Emit(KindStarted, &StartedPayload{})
	em.Emit(KindStopped, nil)

	require.ElementsMatch(t, []Kind{KindStarted, KindStopped}, got1)
	require.ElementsMatch(t, []Kind{KindStarted, KindStopped}, got2)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	em := NewEmitter()

	var count int
	unsub := em.Subscribe(func(Event) { count++ })
	em.Emit(KindSignal, nil)

	unsub()
	unsub()
	em.Emit(KindSignal, nil)
	require.Equal(t, 1, count)
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	em := NewEmitter()

	var delivered int
	em.Subscribe(func(Event) { panic("boom") })
	em.Subscribe(func(Event) { delivered++ })

	require.NotPanics(t, func() { em.Emit(KindError, nil) })
	require.Equal(t, 1, delivered)
}

func TestEventCarriesPayloadAndTimestamp(t *testing.T) {
	em := NewEmitter()

	var ev Event
	em.Subscribe(func(e Event) { ev = e })
	em.Emit(KindRotate, &RotatePayload{Reason: "manual"})

	require.Equal(t, KindRotate, ev.Kind)
	require.False(t, ev.Timestamp.IsZero())
	p, ok := ev.Payload.(*RotatePayload)
	require.True(t, ok)
	require.Equal(t, "manual", p.Reason)
}
