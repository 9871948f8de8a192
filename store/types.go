package store

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEventKind = errors.New("store: unknown event kind")
	ErrInvalidPath      = errors.New("store: invalid path")
	ErrPermissionDenied = errors.New("store: permission denied")
)

type EventKind string

const (
	Value        EventKind = "value"
	ChildAdded   EventKind = "child_added"
	ChildRemoved EventKind = "child_removed"
	ChildChanged EventKind = "child_changed"
	ChildMoved   EventKind = "child_moved"
)

var EventKinds = []EventKind{Value, ChildAdded, ChildRemoved, ChildChanged, ChildMoved}

func (k EventKind) Valid() bool {
	switch k {
	case Value, ChildAdded, ChildRemoved, ChildChanged, ChildMoved:
		return true
	}
	return false
}

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
	}
	return k, nil
}

// Event is one notification from a listener registration.
//
//	Value:        Key is the location's key, Value the whole subtree.
//	ChildAdded:   Key, Value and PrevKey of the new child.
//	ChildChanged: Key, Value and PrevKey of the changed child.
//	ChildMoved:   Key, Value and the new PrevKey.
//	ChildRemoved: Key and the last Value of the removed child.
//
// PrevKey is "" when the child sorts first.
type Event struct {
	Kind     EventKind
	Key      string
	Value    any
	PrevKey  string
	Priority *float64
}

func (e Event) String() string {
	if e.PrevKey == "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s(%s after %s)", e.Kind, e.Key, e.PrevKey)
}

type EventFunc func(Event)

type ErrorFunc func(error)

// Callback completes an asynchronous write. err is nil on success; results
// carry whatever the operation produces, e.g. the new key for Push.
type Callback func(err error, results ...any)

// Ref is a location in a remote hierarchical store, with a callback style API.
type Ref interface {
	Key() string
	Path() string
	Child(path string) Ref
	Parent() Ref

	// On registers a listener. The store may deliver existing state right away
	// (current value, or one ChildAdded per existing child). onError fires at
	// most once, after which the registration is gone. off is idempotent.
	On(kind EventKind, onEvent EventFunc, onError ErrorFunc) (off func())

	Set(value any, done Callback)
	SetWithPriority(value any, priority float64, done Callback)
	SetPriority(priority float64, done Callback)
	Update(values map[string]any, done Callback)
	// Push creates a child with a generated, chronologically ordered key and
	// reports the key as the first result.
	Push(value any, done Callback)
	Remove(done Callback)
}
