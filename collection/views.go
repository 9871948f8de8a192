package collection

import (
	"github.com/kevinxiao27/livelist/stream"
	"github.com/kevinxiao27/livelist/util"
)

// Found is the result of Find. OK is false when no value matched.
type Found[T any] struct {
	Value T
	OK    bool
}

// Values publishes the value snapshots. A new subscriber gets the latest one
// first, if there has been a mutation.
func (c *Collection[T]) Values() stream.Observable[[]T] {
	return stream.Map[snapshot[T]](c.subject, func(s snapshot[T]) []T { return s.values })
}

// Entries publishes the snapshots with their keys.
func (c *Collection[T]) Entries() stream.Observable[[]Entry[T]] {
	return stream.Map[snapshot[T]](c.subject, func(s snapshot[T]) []Entry[T] { return s.entries })
}

func (c *Collection[T]) Subscribe(o stream.Observer[[]T]) stream.Subscription {
	return c.Values().Subscribe(o)
}

func (c *Collection[T]) SubscribeFunc(next func([]T), onError func(error), complete func()) stream.Subscription {
	return stream.Observe(c.Values(), next, onError, complete)
}

// Length emits the number of entries whenever it changes.
func (c *Collection[T]) Length() stream.Observable[int] {
	return stream.DistinctComparable(stream.Map(c.Entries(), func(entries []Entry[T]) int {
		return len(entries)
	}))
}

// IndexOfKey emits the position of key, or -1, whenever it changes.
func (c *Collection[T]) IndexOfKey(key string) stream.Observable[int] {
	return stream.DistinctComparable(stream.Map(c.Entries(), func(entries []Entry[T]) int {
		return PositionOf(key, entries)
	}))
}

// IndexOf emits the position of the first entry equal to value, or -1,
// whenever it changes.
func (c *Collection[T]) IndexOf(value T) stream.Observable[int] {
	return c.FindIndex(func(v T) bool { return c.opts.equal(v, value) })
}

func (c *Collection[T]) Filter(pred func(T) bool) stream.Observable[[]T] {
	return stream.Map(c.Values(), func(values []T) []T {
		return util.Filter(values, pred)
	})
}

// Map projects every snapshot through fn.
func Map[T, U any](c *Collection[T], fn func(T) U) stream.Observable[[]U] {
	return stream.Map(c.Values(), func(values []T) []U {
		out := make([]U, len(values))
		for i, v := range values {
			out[i] = fn(v)
		}
		return out
	})
}

// Find emits the first value matching pred. Consecutive equal results are
// emitted once.
func (c *Collection[T]) Find(pred func(T) bool) stream.Observable[Found[T]] {
	found := stream.Map(c.Values(), func(values []T) Found[T] {
		for _, v := range values {
			if pred(v) {
				return Found[T]{Value: v, OK: true}
			}
		}
		return Found[T]{}
	})
	return stream.Distinct(found, func(a, b Found[T]) bool {
		if a.OK != b.OK {
			return false
		}
		return !a.OK || c.opts.equal(a.Value, b.Value)
	})
}

// FindIndex emits the position of the first value matching pred, or -1.
func (c *Collection[T]) FindIndex(pred func(T) bool) stream.Observable[int] {
	return stream.DistinctComparable(stream.Map(c.Values(), func(values []T) int {
		for i, v := range values {
			if pred(v) {
				return i
			}
		}
		return -1
	}))
}
