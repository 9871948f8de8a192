// Package collection keeps a client side ordered list in step with the
// children of a remote store location and publishes every state as a
// snapshot.
//
// The list is driven by four child event streams. Each event names a key and,
// for adds and moves, the key of the previous sibling; an empty previous key
// means first, and a previous key that is not known locally yet appends at the
// end. Handlers run one at a time and each either mutates the list and
// publishes once, or does nothing.
//
// Snapshots go out on a replay-latest channel, so a subscriber that arrives
// late sees the current list first and then every later one.
package collection

import (
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"
	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/livelist/bridge"
	"github.com/kevinxiao27/livelist/internal/metrics"
	"github.com/kevinxiao27/livelist/store"
	"github.com/kevinxiao27/livelist/stream"
	"github.com/kevinxiao27/livelist/util"
)

type Entry[T any] struct {
	ID    string
	Value T
}

// Source supplies the child events of one location.
type Source interface {
	ChildAdded() stream.Observable[store.Event]
	ChildRemoved() stream.Observable[store.Event]
	ChildChanged() stream.Observable[store.Event]
	ChildMoved() stream.Observable[store.Event]
}

// Writer performs remote writes relative to the same location.
type Writer interface {
	Push(value any) *bridge.Future
	RemoveChild(key string) *bridge.Future
	SetChild(key string, value any) *bridge.Future
	SetChildPriority(key string, priority float64) *bridge.Future
}

type Remote interface {
	Source
	Writer
}

// snapshot is what the channel carries. In live mode both slices are the
// collection's own backing slices.
type snapshot[T any] struct {
	entries []Entry[T]
	values  []T
}

type Collection[T any] struct {
	remote  Remote
	opts    options
	metrics *metrics.Collectors

	// publishMu orders mutate-then-publish steps; mu guards the state and is
	// never held while subscribers run.
	publishMu sync.Mutex
	mu        sync.Mutex
	entries   []Entry[T]
	values    []T // maintained in live mode only
	subs      []stream.Subscription
	closed    bool

	subject *stream.Subject[snapshot[T]]
}

// New attaches the four child event subscriptions and returns the collection.
// It is empty until the first child_added arrives.
func New[T any](remote Remote, opts ...Option) (*Collection[T], error) {
	if remote == nil {
		panic("collection: nil remote")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collection[T]{
		remote:  remote,
		opts:    o,
		entries: []Entry[T]{},
		values:  []T{},
		subject: stream.NewSubject[snapshot[T]](),
	}
	if o.registerer != nil {
		m, err := metrics.For(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("collection: metrics: %w", err)
		}
		c.metrics = m
	}

	c.attach(remote.ChildAdded(), c.childAdded)
	c.attach(remote.ChildRemoved(), c.childRemoved)
	c.attach(remote.ChildChanged(), c.childChanged)
	c.attach(remote.ChildMoved(), c.childMoved)
	return c, nil
}

func (c *Collection[T]) attach(src stream.Observable[store.Event], handle func(store.Event)) {
	sub := src.Subscribe(stream.Observer[store.Event]{
		Next:     handle,
		Error:    c.terminate,
		Complete: func() { c.terminate(nil) },
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// an earlier stream already failed
		sub.Unsubscribe()
		return
	}
	c.subs = append(c.subs, sub)
}

// Close disposes the event subscriptions and completes the channel. The list
// keeps its last state.
func (c *Collection[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	c.subject.Complete()
	return nil
}

// terminate ends the collection because a source stream ended. err is nil on
// completion.
func (c *Collection[T]) terminate(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if err != nil {
		glog.Warningf("[collection]%s terminated = %s\n", c.opts.name, err)
		c.subject.Error(err)
		return
	}
	c.subject.Complete()
}

func (c *Collection[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Collection[T]) decode(ev store.Event) (T, bool) {
	if v, ok := ev.Value.(T); ok {
		return v, true
	}
	var out T
	if err := c.opts.decode(ev.Value, &out); err != nil {
		c.terminate(&DecodeError{Key: ev.Key, Err: err})
		return out, false
	}
	return out, true
}

func (c *Collection[T]) childAdded(ev store.Event) {
	value, ok := c.decode(ev)
	if !ok {
		return
	}
	c.apply(ev, func() bool {
		if pos := PositionOf(ev.Key, c.entries); pos >= 0 {
			// a repeated add replaces the stale entry so ids stay unique
			c.removeLocked(pos)
		}
		c.insertLocked(PositionAfter(ev.PrevKey, c.entries), Entry[T]{ID: ev.Key, Value: value})
		return true
	})
}

func (c *Collection[T]) childRemoved(ev store.Event) {
	c.apply(ev, func() bool {
		pos := PositionOf(ev.Key, c.entries)
		if pos == -1 {
			return false
		}
		c.removeLocked(pos)
		return true
	})
}

func (c *Collection[T]) childChanged(ev store.Event) {
	value, ok := c.decode(ev)
	if !ok {
		return
	}
	c.apply(ev, func() bool {
		pos := PositionOf(ev.Key, c.entries)
		if pos == -1 {
			return false
		}
		c.entries[pos] = Entry[T]{ID: ev.Key, Value: value}
		if !c.opts.copySnapshots {
			c.values[pos] = value
		}
		return true
	})
}

func (c *Collection[T]) childMoved(ev store.Event) {
	c.apply(ev, func() bool {
		pos := PositionOf(ev.Key, c.entries)
		if pos == -1 {
			return false
		}
		entry := c.entries[pos]
		c.removeLocked(pos)
		// relative to the list without the moved entry
		c.insertLocked(PositionAfter(ev.PrevKey, c.entries), entry)
		return true
	})
}

func (c *Collection[T]) insertLocked(pos int, e Entry[T]) {
	c.entries = util.Insert(c.entries, pos, e)
	if !c.opts.copySnapshots {
		c.values = util.Insert(c.values, pos, e.Value)
	}
}

func (c *Collection[T]) removeLocked(pos int) {
	c.entries = util.RemoveAt(c.entries, pos)
	if !c.opts.copySnapshots {
		c.values = util.RemoveAt(c.values, pos)
	}
}

// apply runs mutate under the state lock and publishes when it reports a
// change.
func (c *Collection[T]) apply(ev store.Event, mutate func() bool) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := mutate()
	var snap snapshot[T]
	if changed {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	kind := string(ev.Kind)
	if !changed {
		glog.V(2).Infof("[collection]%s ignored %s\n", c.opts.name, ev)
		if c.metrics != nil {
			c.metrics.Ignored.WithLabelValues(c.opts.name, kind).Inc()
		}
		return
	}

	glog.V(2).Infof("[collection]%s applied %s len = %d\n", c.opts.name, ev, len(snap.entries))
	if glog.V(3) {
		glog.Infof("[collection]%s snapshot = %s\n", c.opts.name, litter.Sdump(snap.values))
	}
	if c.metrics != nil {
		c.metrics.Applied.WithLabelValues(c.opts.name, kind).Inc()
		c.metrics.Snapshots.WithLabelValues(c.opts.name).Inc()
	}
	c.subject.Next(snap)
}

func (c *Collection[T]) snapshotLocked() snapshot[T] {
	if !c.opts.copySnapshots {
		return snapshot[T]{entries: c.entries, values: c.values}
	}
	return snapshot[T]{entries: slices.Clone(c.entries), values: entryValues(c.entries)}
}

func entryValues[T any](entries []Entry[T]) []T {
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values
}

// Array returns the current values.
func (c *Collection[T]) Array() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.copySnapshots {
		return c.values
	}
	return entryValues(c.entries)
}

// Snapshot returns the current entries.
func (c *Collection[T]) Snapshot() []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.copySnapshots {
		return c.entries
	}
	return slices.Clone(c.entries)
}
