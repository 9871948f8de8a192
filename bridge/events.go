// Package bridge turns the callback API of a store.Ref into streams and
// futures.
package bridge

import (
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/kevinxiao27/livelist/store"
	"github.com/kevinxiao27/livelist/stream"
)

// EventStream multicasts one listener registration on a ref to every current
// subscriber. The listener is registered on the first subscribe and removed
// when the last subscriber leaves or the store reports an error. A later
// subscribe registers again and sees only what the store delivers from then
// on.
type EventStream struct {
	ref  store.Ref
	kind store.EventKind

	mu          sync.Mutex
	sinks       []stream.Sink[store.Event] // copy on write
	off         func()
	registering bool
	generation  uint64 // bumped whenever a registration ends
}

var _ stream.Observable[store.Event] = (*EventStream)(nil)

func NewEventStream(ref store.Ref, kind store.EventKind) *EventStream {
	if ref == nil {
		panic("bridge: nil ref")
	}
	return &EventStream{ref: ref, kind: kind}
}

func (s *EventStream) Kind() store.EventKind {
	return s.kind
}

func (s *EventStream) Subscribe(o stream.Observer[store.Event]) stream.Subscription {
	return stream.Create(func(sink stream.Sink[store.Event]) func() {
		if !s.kind.Valid() {
			sink.Error(fmt.Errorf("%w: %q", store.ErrUnknownEventKind, s.kind))
			return nil
		}
		s.attach(sink)
		return func() { s.detach(sink) }
	}).Subscribe(o)
}

// Registered reports whether a remote listener is attached.
func (s *EventStream) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.off != nil || s.registering
}

func (s *EventStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

func (s *EventStream) attach(sink stream.Sink[store.Event]) {
	s.mu.Lock()
	s.sinks = append(slices.Clone(s.sinks), sink)
	register := s.off == nil && !s.registering
	if register {
		s.registering = true
	}
	generation := s.generation
	s.mu.Unlock()

	if !register {
		return
	}

	// the ref may deliver synchronously from On, so no lock is held here
	off := s.ref.On(s.kind,
		func(ev store.Event) { s.forward(generation, ev) },
		func(err error) { s.fail(generation, err) },
	)
	glog.V(2).Infof("[bridge]on %s %s\n", s.kind, s.ref.Path())

	s.mu.Lock()
	s.registering = false
	if s.generation != generation || len(s.sinks) == 0 {
		// failed or abandoned while registering
		s.mu.Unlock()
		off()
		return
	}
	s.off = off
	s.mu.Unlock()
}

func (s *EventStream) detach(sink stream.Sink[store.Event]) {
	s.mu.Lock()
	i := slices.Index(s.sinks, sink)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.sinks = slices.Delete(slices.Clone(s.sinks), i, i+1)
	if len(s.sinks) > 0 || s.off == nil {
		s.mu.Unlock()
		return
	}
	off := s.off
	s.off = nil
	s.generation++
	s.mu.Unlock()

	off()
	glog.V(2).Infof("[bridge]off %s %s\n", s.kind, s.ref.Path())
}

func (s *EventStream) forward(generation uint64, ev store.Event) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	sinks := s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Next(ev)
	}
}

func (s *EventStream) fail(generation uint64, err error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	sinks := s.sinks
	s.sinks = nil
	off := s.off
	s.off = nil
	s.generation++
	s.mu.Unlock()

	glog.Warningf("[bridge]%s %s error = %s\n", s.kind, s.ref.Path(), err)
	if off != nil {
		off()
	}
	for _, sink := range sinks {
		sink.Error(err)
	}
}
