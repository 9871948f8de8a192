package bridge

import (
	"context"
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/kevinxiao27/livelist/store"
)

// Future is the single outcome of an asynchronous call.
type Future struct {
	done    chan struct{}
	once    sync.Once
	results []any
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func Resolve(results ...any) *Future {
	f := newFuture()
	f.settle(results, nil)
	return f
}

func Reject(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

func (f *Future) settle(results []any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.results = results
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the failure, or nil while pending or after success.
func (f *Future) Err() error {
	if !f.Resolved() {
		return nil
	}
	return f.err
}

func (f *Future) Wait(ctx context.Context) ([]any, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack waits and discards the results.
func (f *Future) Ack(ctx context.Context) error {
	_, err := f.Wait(ctx)
	return err
}

// Then derives a future that fails with f's error, or with the error fn returns
// for f's results.
func (f *Future) Then(fn func(results []any) error) *Future {
	next := newFuture()
	go func() {
		<-f.done
		if f.err != nil {
			next.settle(nil, f.err)
			return
		}
		if err := fn(f.results); err != nil {
			next.settle(nil, err)
			return
		}
		next.settle(f.results, nil)
	}()
	return next
}

// RunAsync calls op with target as receiver, a copy of args, and a completion
// callback. A nil error resolves the future with every callback argument,
// the leading nil error included. Any other error rejects it. Only the first
// callback invocation counts.
func RunAsync[R any](target R, op func(target R, args []any, done store.Callback), args ...any) *Future {
	f := newFuture()
	argsCopy := slices.Clone(args)
	op(target, argsCopy, func(err error, results ...any) {
		var settled bool
		if err != nil {
			settled = f.settle(nil, err)
		} else {
			settled = f.settle(append([]any{nil}, results...), nil)
		}
		if !settled {
			glog.Warningf("[bridge]async callback invoked more than once, err = %v\n", err)
		}
	})
	return f
}
