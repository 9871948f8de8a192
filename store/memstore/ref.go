package memstore

import (
	"slices"

	"github.com/kevinxiao27/livelist/store"
)

type ref struct {
	store *Store
	path  []string
	err   error
}

var _ store.Ref = (*ref)(nil)

func (r *ref) Key() string {
	return lastKey(r.path)
}

func (r *ref) Path() string {
	return store.JoinPath(r.path...)
}

func (r *ref) Child(path string) store.Ref {
	if r.err != nil {
		return r
	}
	segments, err := store.SplitPath(path)
	return &ref{store: r.store, path: append(slices.Clone(r.path), segments...), err: err}
}

func (r *ref) Parent() store.Ref {
	if len(r.path) == 0 {
		return nil
	}
	return &ref{store: r.store, path: slices.Clone(r.path[:len(r.path)-1]), err: r.err}
}

func (r *ref) On(kind store.EventKind, onEvent store.EventFunc, onError store.ErrorFunc) func() {
	if r.err != nil {
		err := r.err
		if onError != nil {
			go onError(err)
		}
		return func() {}
	}
	return r.store.on(r.path, kind, onEvent, onError)
}

func (r *ref) Set(value any, done store.Callback) {
	r.setNode(value, nil, done)
}

func (r *ref) SetWithPriority(value any, priority float64, done store.Callback) {
	r.setNode(value, &priority, done)
}

func (r *ref) setNode(value any, priority *float64, done store.Callback) {
	if r.failed(done) {
		return
	}
	r.store.write(r.path, done, func(root *node) (*node, []any, error) {
		n, err := buildNode(value)
		if err != nil {
			return nil, nil, err
		}
		return setAt(root, r.path, withPriority(n, priority)), nil, nil
	})
}

func (r *ref) SetPriority(priority float64, done store.Callback) {
	if r.failed(done) {
		return
	}
	r.store.write(r.path, done, func(root *node) (*node, []any, error) {
		return setAt(root, r.path, withPriority(root.lookup(r.path), &priority)), nil, nil
	})
}

func (r *ref) Update(values map[string]any, done store.Callback) {
	if r.failed(done) {
		return
	}
	r.store.write(r.path, done, func(root *node) (*node, []any, error) {
		next := root
		for k, v := range values {
			rel, err := store.SplitPath(k)
			if err != nil {
				return nil, nil, err
			}
			n, err := buildNode(v)
			if err != nil {
				return nil, nil, err
			}
			p := append(slices.Clone(r.path), rel...)
			// preserve the priority of an overwritten child
			n = withPriority(n, next.lookup(p).priorityOrNil())
			next = setAt(next, p, n)
		}
		return next, nil, nil
	})
}

func (r *ref) Push(value any, done store.Callback) {
	if r.failed(done) {
		return
	}
	key := r.store.newKey()
	path := append(slices.Clone(r.path), key)
	r.store.write(path, done, func(root *node) (*node, []any, error) {
		n, err := buildNode(value)
		if err != nil {
			return nil, nil, err
		}
		return setAt(root, path, n), []any{key}, nil
	})
}

func (r *ref) Remove(done store.Callback) {
	if r.failed(done) {
		return
	}
	r.store.write(r.path, done, func(root *node) (*node, []any, error) {
		return setAt(root, r.path, nil), nil, nil
	})
}

func (r *ref) failed(done store.Callback) bool {
	if r.err == nil {
		return false
	}
	if done != nil {
		go done(r.err)
	}
	return true
}
