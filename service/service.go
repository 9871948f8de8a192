// Package service wraps one store location with streams for its events and
// futures for its writes, and can project the location's children as a
// collection.
package service

import (
	"sync"

	"github.com/kevinxiao27/livelist/bridge"
	"github.com/kevinxiao27/livelist/collection"
	"github.com/kevinxiao27/livelist/store"
	"github.com/kevinxiao27/livelist/stream"
)

type Service struct {
	ref store.Ref

	mu      sync.Mutex
	streams map[store.EventKind]*bridge.EventStream
}

var _ collection.Remote = (*Service)(nil)

func New(ref store.Ref) *Service {
	if ref == nil {
		panic("service: nil ref")
	}
	return &Service{ref: ref, streams: map[store.EventKind]*bridge.EventStream{}}
}

func (s *Service) Ref() store.Ref {
	return s.ref
}

func (s *Service) Path() string {
	return s.ref.Path()
}

// Child returns a service for path relative to this location.
func (s *Service) Child(path string) *Service {
	return New(s.ref.Child(path))
}

// On returns the event stream for kind. Streams are shared, so every
// subscriber of the same kind uses one store listener.
func (s *Service) On(kind store.EventKind) stream.Observable[store.Event] {
	s.mu.Lock()
	defer s.mu.Unlock()
	es, ok := s.streams[kind]
	if !ok {
		es = bridge.NewEventStream(s.ref, kind)
		s.streams[kind] = es
	}
	return es
}

func (s *Service) ValueRaw() stream.Observable[store.Event] { return s.On(store.Value) }

func (s *Service) ChildAdded() stream.Observable[store.Event]   { return s.On(store.ChildAdded) }
func (s *Service) ChildRemoved() stream.Observable[store.Event] { return s.On(store.ChildRemoved) }
func (s *Service) ChildChanged() stream.Observable[store.Event] { return s.On(store.ChildChanged) }
func (s *Service) ChildMoved() stream.Observable[store.Event]   { return s.On(store.ChildMoved) }

// Value emits the whole value of the location now and after every change.
func (s *Service) Value() stream.Observable[any] {
	return Values(s.ValueRaw())
}

// Values projects events to their values.
func Values(events stream.Observable[store.Event]) stream.Observable[any] {
	return stream.Map(events, func(ev store.Event) any { return ev.Value })
}

var (
	setOp = func(r store.Ref, args []any, done store.Callback) {
		r.Set(args[0], done)
	}
	updateOp = func(r store.Ref, args []any, done store.Callback) {
		r.Update(args[0].(map[string]any), done)
	}
	pushOp = func(r store.Ref, args []any, done store.Callback) {
		r.Push(args[0], done)
	}
	removeOp = func(r store.Ref, _ []any, done store.Callback) {
		r.Remove(done)
	}
	priorityOp = func(r store.Ref, args []any, done store.Callback) {
		r.SetPriority(args[0].(float64), done)
	}
)

// Set replaces the value of the location.
func (s *Service) Set(value any) *bridge.Future {
	return bridge.RunAsync(s.ref, setOp, value)
}

// Update writes only the given children.
func (s *Service) Update(values map[string]any) *bridge.Future {
	return bridge.RunAsync(s.ref, updateOp, values)
}

// Push adds value under a generated key. The future's results are the leading
// nil error followed by the key.
func (s *Service) Push(value any) *bridge.Future {
	return bridge.RunAsync(s.ref, pushOp, value)
}

// Remove deletes the child at key, or the location itself when no key is
// given.
func (s *Service) Remove(key ...string) *bridge.Future {
	target := s.ref
	if len(key) > 0 && key[0] != "" {
		target = s.ref.Child(key[0])
	}
	return bridge.RunAsync(target, removeOp)
}

func (s *Service) RemoveChild(key string) *bridge.Future {
	return bridge.RunAsync(s.ref.Child(key), removeOp)
}

func (s *Service) SetChild(key string, value any) *bridge.Future {
	return bridge.RunAsync(s.ref.Child(key), setOp, value)
}

func (s *Service) SetChildPriority(key string, priority float64) *bridge.Future {
	return bridge.RunAsync(s.ref.Child(key), priorityOp, priority)
}

// AsCollection keeps a collection of the location's children. Metrics are
// labelled with the location's path unless opts name the collection.
func AsCollection[T any](s *Service, opts ...collection.Option) (*collection.Collection[T], error) {
	opts = append([]collection.Option{collection.WithName(s.Path())}, opts...)
	return collection.New[T](s, opts...)
}
