// Package memstore is an in-memory hierarchical key-value store that speaks the
// store.Ref callback API. Children are ordered by priority and then key, and
// listener callbacks run on one dispatch goroutine per store, in commit order,
// never while the store lock is held.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/kevinxiao27/livelist/store"
)

var ErrClosed = errors.New("memstore: closed")

type Option func(*Store)

// WithKeyGenerator replaces the ULID based push key generator.
func WithKeyGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newKey = gen
	}
}

type listener struct {
	kind    store.EventKind
	path    []string
	onEvent store.EventFunc
	onError store.ErrorFunc
	active  bool // guarded by Store.mu
}

type Store struct {
	name   string
	newKey func() string

	mu        sync.Mutex
	root      *node
	listeners []*listener
	revoked   map[string]error
	closed    bool

	dispatch *dispatcher
}

func New(opts ...Option) *Store {
	s := &Store{
		newKey:   func() string { return ulid.Make().String() },
		revoked:  map[string]error{},
		dispatch: newDispatcher(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Store{}
)

// Open returns the process wide store with the given name, creating it on first
// use. Options only apply on creation.
func Open(name string, opts ...Option) *Store {
	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := registry[name]; ok && !s.isClosed() {
		return s
	}
	s := New(opts...)
	s.name = name
	registry[name] = s
	glog.Infof("[memstore]opened %q\n", name)
	return s
}

func (s *Store) Name() string {
	return s.name
}

// Ref returns a reference to path. An invalid path yields a ref whose
// operations fail with store.ErrInvalidPath.
func (s *Store) Ref(path string) store.Ref {
	segments, err := store.SplitPath(path)
	return &ref{store: s, path: segments, err: err}
}

// Get reads the current value at path.
func (s *Store) Get(path string) (any, error) {
	segments, err := store.SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAccess(segments); err != nil {
		return nil, err
	}
	return s.root.lookup(segments).export(), nil
}

// Flush waits until every callback queued so far has run.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !s.dispatch.enqueue(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery. Queued callbacks that have not run yet are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	for _, l := range s.listeners {
		l.active = false
	}
	s.listeners = nil
	s.mu.Unlock()

	s.dispatch.stop()
	if s.name != "" {
		registryMu.Lock()
		if registry[s.name] == s {
			delete(registry, s.name)
		}
		registryMu.Unlock()
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Revoke denies access to path and everything below it. Listeners in that
// subtree receive err (store.ErrPermissionDenied when nil) and are removed.
func (s *Store) Revoke(path string, err error) error {
	segments, perr := store.SplitPath(path)
	if perr != nil {
		return perr
	}
	if err == nil {
		err = store.ErrPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.revoked[store.JoinPath(segments...)] = err

	kept := s.listeners[:0:0]
	for _, l := range s.listeners {
		if hasPrefix(l.path, segments) {
			s.fail(l, err)
			continue
		}
		kept = append(kept, l)
	}
	s.listeners = kept
	return nil
}

// Grant lifts a previous Revoke of exactly path.
func (s *Store) Grant(path string) error {
	segments, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.revoked, store.JoinPath(segments...))
	return nil
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Store) on(path []string, kind store.EventKind, onEvent store.EventFunc, onError store.ErrorFunc) func() {
	l := &listener{kind: kind, path: path, onEvent: onEvent, onError: onError, active: true}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !kind.Valid() {
		s.fail(l, fmt.Errorf("%w: %q", store.ErrUnknownEventKind, kind))
		return func() {}
	}
	if s.closed {
		s.fail(l, ErrClosed)
		return func() {}
	}
	if err := s.checkAccess(path); err != nil {
		s.fail(l, err)
		return func() {}
	}

	s.listeners = append(s.listeners, l)
	current := s.root.lookup(path)
	switch kind {
	case store.Value:
		s.deliver(l, []store.Event{{Kind: store.Value, Key: lastKey(path), Value: current.export(), Priority: current.priorityOrNil()}})
	case store.ChildAdded:
		s.deliver(l, initialChildEvents(current))
	}
	glog.V(2).Infof("[memstore]on %s %s\n", kind, store.JoinPath(path...))

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !l.active {
			return
		}
		l.active = false
		if i := slices.Index(s.listeners, l); i >= 0 {
			s.listeners = slices.Delete(slices.Clone(s.listeners), i, i+1)
		}
		glog.V(2).Infof("[memstore]off %s %s\n", kind, store.JoinPath(path...))
	}
}

// write commits mutate against the current root and queues the resulting
// events followed by done. mutate returns the new root and the callback
// results.
func (s *Store) write(path []string, done store.Callback, mutate func(root *node) (*node, []any, error)) {
	if done == nil {
		done = func(error, ...any) {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		go done(ErrClosed)
		return
	}
	if err := s.checkAccess(path); err != nil {
		s.dispatch.enqueue(func() { done(err) })
		return
	}

	before := s.root
	after, results, err := mutate(before)
	if err != nil {
		s.dispatch.enqueue(func() { done(err) })
		return
	}
	s.root = after

	// one diff per listened location, delivered in diff order across kinds
	byPath := map[string][]*listener{}
	order := []string{}
	for _, l := range s.listeners {
		if !hasPrefix(path, l.path) && !hasPrefix(l.path, path) {
			continue
		}
		p := store.JoinPath(l.path...)
		if _, ok := byPath[p]; !ok {
			order = append(order, p)
		}
		byPath[p] = append(byPath[p], l)
	}
	for _, p := range order {
		listeners := byPath[p]
		at := listeners[0].path
		old, cur := before.lookup(at), after.lookup(at)

		events := childEvents(old, cur)
		if valueChanged(old, cur) {
			events = append(events, store.Event{Kind: store.Value, Key: lastKey(at), Value: cur.export(), Priority: cur.priorityOrNil()})
		}
		for _, ev := range events {
			for _, l := range listeners {
				if l.kind == ev.Kind {
					s.deliver(l, []store.Event{ev})
				}
			}
		}
	}

	s.dispatch.enqueue(func() { done(nil, results...) })
}

// deliver and fail must be called with s.mu held.
func (s *Store) deliver(l *listener, events []store.Event) {
	if len(events) == 0 {
		return
	}
	s.dispatch.enqueue(func() {
		for _, ev := range events {
			s.mu.Lock()
			active := l.active
			s.mu.Unlock()
			if !active {
				return
			}
			l.onEvent(ev)
		}
	})
}

func (s *Store) fail(l *listener, err error) {
	l.active = false
	if l.onError == nil {
		return
	}
	if !s.dispatch.enqueue(func() { l.onError(err) }) {
		go l.onError(err)
	}
}

func (s *Store) checkAccess(path []string) error {
	for i := 0; i <= len(path); i++ {
		if err, ok := s.revoked[store.JoinPath(path[:i]...)]; ok {
			return fmt.Errorf("%s: %w", store.JoinPath(path...), err)
		}
	}
	return nil
}

func hasPrefix(path []string, prefix []string) bool {
	return len(prefix) <= len(path) && slices.Equal(path[:len(prefix)], prefix)
}

func lastKey(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}
