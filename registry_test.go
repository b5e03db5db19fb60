package matchsocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry(nil)

	calls := 0
	l := NewListener(func(Event) { calls++ })

	r.Add(KindNewMessage, l)
	r.Add(KindNewMessage, l)
	assert.Equal(t, 1, r.Len(KindNewMessage))

	n := r.Dispatch(KindNewMessage, Event{Kind: KindNewMessage})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)

	assert.Equal(t, 0, r.Dispatch(KindTypingStart, Event{Kind: KindTypingStart}))
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(nil)

	var got []string
	a := NewListener(func(Event) { got = append(got, "a") })
	b := NewListener(func(Event) { got = append(got, "b") })

	offA := r.Add(KindTypingStart, a)
	r.Add(KindTypingStart, b)

	offA()
	r.Dispatch(KindTypingStart, Event{})
	assert.Equal(t, []string{"b"}, got)

	t.Run("Twice", func(t *testing.T) {
		assert.False(t, r.Remove(KindTypingStart, a))
		assert.Equal(t, 1, r.Len(KindTypingStart))
	})

	t.Run("OtherKind", func(t *testing.T) {
		assert.False(t, r.Remove(KindNewMessage, b))
		assert.Equal(t, 1, r.Len(KindTypingStart))
	})

	t.Run("Last", func(t *testing.T) {
		assert.True(t, r.Remove(KindTypingStart, b))
		assert.Equal(t, 0, r.Len(KindTypingStart))
	})
}

func TestRegistrySameListenerSeveralKinds(t *testing.T) {
	r := NewRegistry(nil)

	var kinds []Kind
	l := NewListener(func(ev Event) { kinds = append(kinds, ev.Kind) })
	r.Add(KindTypingStart, l)
	r.Add(KindTypingStop, l)

	r.Remove(KindTypingStart, l)
	r.Dispatch(KindTypingStart, Event{Kind: KindTypingStart})
	r.Dispatch(KindTypingStop, Event{Kind: KindTypingStop})

	assert.Equal(t, []Kind{KindTypingStop}, kinds)
}

func TestRegistryPanicIsolation(t *testing.T) {
	r := NewRegistry(nil)

	calls := 0
	r.Add(KindNewMatch, NewListener(func(Event) { panic("boom") }))
	r.Add(KindNewMatch, NewListener(func(Event) { calls++ }))

	assert.NotPanics(t, func() {
		assert.Equal(t, 2, r.Dispatch(KindNewMatch, Event{Kind: KindNewMatch}))
	})
	assert.Equal(t, 1, calls)
}

func TestRegistryNilListener(t *testing.T) {
	r := NewRegistry(nil)

	off := r.Add(KindError, nil)
	off()
	r.Add(KindError, &Listener{})
	assert.Equal(t, 0, r.Len(KindError))
}

func TestRegistryRemoveDuringDispatch(t *testing.T) {
	r := NewRegistry(nil)

	var off func()
	calls := 0
	off = r.Add(KindNewMessage, NewListener(func(Event) {
		calls++
		off()
	}))

	r.Dispatch(KindNewMessage, Event{})
	r.Dispatch(KindNewMessage, Event{})
	assert.Equal(t, 1, calls)
}
