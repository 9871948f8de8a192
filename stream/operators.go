package stream

import (
	"sync"
)

func Map[T, U any](src Observable[T], fn func(T) U) Observable[U] {
	return Create(func(sink Sink[U]) func() {
		sub := src.Subscribe(Observer[T]{
			Next:     func(v T) { sink.Next(fn(v)) },
			Error:    sink.Error,
			Complete: sink.Complete,
		})
		return sub.Unsubscribe
	})
}

// Distinct suppresses a value when eq reports it equal to the previously
// emitted one. The first value always passes.
func Distinct[T any](src Observable[T], eq func(a, b T) bool) Observable[T] {
	return Create(func(sink Sink[T]) func() {
		var (
			mu   sync.Mutex
			last T
			has  bool
		)
		sub := src.Subscribe(Observer[T]{
			Next: func(v T) {
				mu.Lock()
				if has && eq(last, v) {
					mu.Unlock()
					return
				}
				last, has = v, true
				mu.Unlock()
				sink.Next(v)
			},
			Error:    sink.Error,
			Complete: sink.Complete,
		})
		return sub.Unsubscribe
	})
}

func DistinctComparable[T comparable](src Observable[T]) Observable[T] {
	return Distinct(src, func(a, b T) bool { return a == b })
}
