// Package stream implements small push-based observables: cold streams built
// with Create, the Map and Distinct operators, and a replay-latest Subject.
//
// Delivery is synchronous on the goroutine that emits. Emissions into a single
// Sink or Subject must be serialized by the caller.
package stream

import (
	"sync"
	"sync/atomic"
)

// Observer receives notifications. Any of the callbacks may be nil.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Sink is the producer side handed to Create.
type Sink[T any] interface {
	Next(T)
	Error(error)
	Complete()
	Closed() bool
}

// Subscription cancels delivery. Unsubscribe is idempotent and safe to call from
// inside an observer callback.
type Subscription interface {
	Unsubscribe()
	Closed() bool
}

type Observable[T any] interface {
	Subscribe(o Observer[T]) Subscription
}

// Func adapts a subscribe function to Observable. The returned teardown runs
// once, on unsubscribe or after the first terminal notification.
type Func[T any] func(sink Sink[T]) (teardown func())

func (f Func[T]) Subscribe(o Observer[T]) Subscription {
	s := newSubscriber(o)
	s.setTeardown(f(s))
	return s
}

// Create returns a cold observable. fn runs once per subscription.
func Create[T any](fn func(sink Sink[T]) (teardown func())) Observable[T] {
	return Func[T](fn)
}

// Fail returns an observable that errors every subscriber immediately.
func Fail[T any](err error) Observable[T] {
	return Create(func(sink Sink[T]) func() {
		sink.Error(err)
		return nil
	})
}

// Observe is shorthand for subscribing with plain functions.
func Observe[T any](src Observable[T], next func(T), onError func(error), complete func()) Subscription {
	return src.Subscribe(Observer[T]{Next: next, Error: onError, Complete: complete})
}

type subscriber[T any] struct {
	obs    Observer[T]
	closed atomic.Bool

	mu       sync.Mutex
	teardown func()
	tornDown bool
}

func newSubscriber[T any](o Observer[T]) *subscriber[T] {
	return &subscriber[T]{obs: o}
}

func (s *subscriber[T]) Next(v T) {
	if s.closed.Load() {
		return
	}
	if s.obs.Next != nil {
		s.obs.Next(v)
	}
}

func (s *subscriber[T]) Error(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.obs.Error != nil {
		s.obs.Error(err)
	}
	s.runTeardown()
}

func (s *subscriber[T]) Complete() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.obs.Complete != nil {
		s.obs.Complete()
	}
	s.runTeardown()
}

func (s *subscriber[T]) Unsubscribe() {
	if s.closed.CompareAndSwap(false, true) {
		s.runTeardown()
	}
}

func (s *subscriber[T]) Closed() bool {
	return s.closed.Load()
}

// setTeardown installs fn, or runs it right away when the subscriber already
// terminated while the producer was still starting up.
func (s *subscriber[T]) setTeardown(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		fn()
		return
	}
	s.teardown = fn
	s.mu.Unlock()
}

func (s *subscriber[T]) runTeardown() {
	s.mu.Lock()
	fn := s.teardown
	s.teardown = nil
	s.tornDown = true
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
