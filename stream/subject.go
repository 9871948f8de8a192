package stream

import (
	"slices"
	"sync"
)

// Subject is a multicast observable that replays its most recent value to every
// new subscriber before any later value. After Error or Complete new
// subscribers get the latest value, if any, followed by the terminal
// notification.
type Subject[T any] struct {
	mu        sync.Mutex
	observers []*subjectObserver[T] // copy on write
	latest    T
	version   uint64 // 0 until the first Next
	err       error
	completed bool
}

// subjectObserver drops deliveries older than what it has already seen, so a
// subscribe racing a Next never sees a snapshot twice or out of order.
type subjectObserver[T any] struct {
	sub  *subscriber[T]
	mu   sync.Mutex
	seen uint64
}

func (o *subjectObserver[T]) deliver(version uint64, v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if version <= o.seen {
		return
	}
	o.seen = version
	o.sub.Next(v)
}

func (o *subjectObserver[T]) terminate(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.sub.Error(err)
	} else {
		o.sub.Complete()
	}
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	if s.terminated() {
		s.mu.Unlock()
		return
	}
	s.version++
	s.latest = v
	version := s.version
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o.deliver(version, v)
	}
}

func (s *Subject[T]) Error(err error) {
	s.finish(err, false)
}

func (s *Subject[T]) Complete() {
	s.finish(nil, true)
}

func (s *Subject[T]) finish(err error, completed bool) {
	s.mu.Lock()
	if s.terminated() {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.completed = completed || err == nil
	observers := s.observers
	s.observers = nil
	s.mu.Unlock()

	for _, o := range observers {
		o.terminate(err)
	}
}

func (s *Subject[T]) Subscribe(obs Observer[T]) Subscription {
	sub := newSubscriber(obs)
	o := &subjectObserver[T]{sub: sub}

	s.mu.Lock()
	version, latest := s.version, s.latest
	err, done := s.err, s.terminated()
	if !done {
		s.observers = append(slices.Clone(s.observers), o)
	}
	s.mu.Unlock()

	if version > 0 {
		o.deliver(version, latest)
	}
	if done {
		o.terminate(err)
		return sub
	}
	sub.setTeardown(func() { s.remove(o) })
	return sub
}

// Latest returns the most recent value and whether there has been one.
func (s *Subject[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.version > 0
}

// Observers returns the number of live subscribers.
func (s *Subject[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func (s *Subject[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subject[T]) remove(o *subjectObserver[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.observers, o)
	if i < 0 {
		return
	}
	s.observers = slices.Delete(slices.Clone(s.observers), i, i+1)
}

func (s *Subject[T]) terminated() bool {
	return s.err != nil || s.completed
}
