// Package signal implements in-process observer lists used to announce
// property changes of installer modules and state changes of tasks.
//
// Observers run synchronously on the emitting goroutine, in the order they
// were connected. Emit works on a snapshot of the observer list and does not
// hold any lock while observers run, so observers are free to connect,
// disconnect or emit again.
package signal

import (
	"sync"
	"sync/atomic"
)

// Handle identifies a connected observer.
type Handle uint64

type observer[T any] struct {
	handle Handle
	fn     func(T)
	live   atomic.Bool
}

// Signal is an observer list carrying a payload of type T.
// The zero value is ready to use.
type Signal[T any] struct {
	mx        sync.Mutex
	next      Handle
	observers []*observer[T]
}

// Connect registers fn and returns a handle for Disconnect.
func (s *Signal[T]) Connect(fn func(T)) Handle {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.next++
	o := &observer[T]{handle: s.next, fn: fn}
	o.live.Store(true)
	s.observers = append(s.observers, o)
	return o.handle
}

// Disconnect removes the observer. Unknown handles are ignored.
// An observer removed while an emission is in progress is not called
// by the rest of that emission.
func (s *Signal[T]) Disconnect(h Handle) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for i, o := range s.observers {
		if o.handle == h {
			o.live.Store(false)
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of connected observers.
func (s *Signal[T]) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.observers)
}

// Emit calls every connected observer with v.
func (s *Signal[T]) Emit(v T) {
	s.mx.Lock()
	snapshot := make([]*observer[T], len(s.observers))
	copy(snapshot, s.observers)
	s.mx.Unlock()

	for _, o := range snapshot {
		if !o.live.Load() {
			continue
		}
		o.fn(v)
	}
}

// Changed is a payload-less Signal announcing that a property was modified.
type Changed struct {
	s Signal[struct{}]
}

func (c *Changed) Connect(fn func()) Handle {
	return c.s.Connect(func(struct{}) { fn() })
}

func (c *Changed) Disconnect(h Handle) { c.s.Disconnect(h) }

func (c *Changed) Len() int { return c.s.Len() }

func (c *Changed) Emit() { c.s.Emit(struct{}{}) }
