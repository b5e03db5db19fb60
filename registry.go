package matchsocket

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener is a subscriber handle. Registration and removal go by pointer
// identity, so keep the *Listener to unsubscribe later.
type Listener struct {
	fn func(Event)
}

// NewListener wraps fn in a new handle
func NewListener(fn func(Event)) *Listener {
	return &Listener{fn: fn}
}

// Registry keeps one set of listeners per Kind and fans events out to them
type Registry struct {
	mu     sync.RWMutex
	sets   map[Kind]map[*Listener]struct{}
	logger zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zerolog.Logger) *Registry {
	r := &Registry{
		sets:   make(map[Kind]map[*Listener]struct{}),
		logger: zerolog.Nop(),
	}
	if logger != nil {
		r.logger = logger.With().Str("component", "registry").Logger()
	}
	return r
}

// Add puts l into the set for kind. Adding the same listener twice stores it once.
// The returned func removes l from that set.
func (r *Registry) Add(kind Kind, l *Listener) func() {
	if l == nil || l.fn == nil {
		return func() {}
	}

	r.mu.Lock()
	set, ok := r.sets[kind]
	if !ok {
		set = make(map[*Listener]struct{})
		r.sets[kind] = set
	}
	set[l] = struct{}{}
	r.mu.Unlock()

	return func() { r.Remove(kind, l) }
}

// Remove takes exactly l out of the set for kind and reports whether it was there
func (r *Registry) Remove(kind Kind, l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[kind]
	if !ok {
		return false
	}
	if _, ok := set[l]; !ok {
		return false
	}
	delete(set, l)
	if len(set) == 0 {
		delete(r.sets, kind)
	}
	return true
}

// Len returns the number of listeners registered for kind
func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets[kind])
}

// Dispatch calls every listener of kind on the calling goroutine and returns
// how many were called. A panicking listener is logged and does not stop the rest.
func (r *Registry) Dispatch(kind Kind, ev Event) int {
	r.mu.RLock()
	listeners := make([]*Listener, 0, len(r.sets[kind]))
	for l := range r.sets[kind] {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		r.invoke(kind, l, ev)
	}
	return len(listeners)
}

func (r *Registry) invoke(kind Kind, l *Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("kind", string(kind)).
				Interface("panic", rec).
				Msg("subscriber panicked")
		}
	}()
	l.fn(ev)
}
