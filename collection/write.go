package collection

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/kevinxiao27/livelist/bridge"
)

// identityField is the local bookkeeping key that Set never writes through.
const identityField = "$id"

// AddAsync pushes value as a new child. The future resolves once the store
// acknowledges the push; PushedKey reads the new key from its results.
// Observers that write back from inside a snapshot callback must use the
// async forms, since the acknowledgement is delivered after the callback
// returns.
func (c *Collection[T]) AddAsync(value T) *bridge.Future {
	if isNil(value) {
		return bridge.Reject(ErrNilValue)
	}
	if c.Closed() {
		return bridge.Reject(ErrClosed)
	}
	return c.remote.Push(value)
}

// Add is AddAsync followed by a wait. The entry shows up in the collection
// once the store reports the add.
func (c *Collection[T]) Add(ctx context.Context, value T) (string, error) {
	results, err := c.AddAsync(value).Wait(ctx)
	if err != nil {
		return "", wrap("add", err)
	}
	return PushedKey(results), nil
}

func (c *Collection[T]) RemoveAsync(key string) *bridge.Future {
	if strings.TrimSpace(key) == "" {
		return bridge.Reject(ErrInvalidKey)
	}
	if c.Closed() {
		return bridge.Reject(ErrClosed)
	}
	return c.remote.RemoveChild(key)
}

func (c *Collection[T]) Remove(ctx context.Context, key string) error {
	return wait(ctx, "remove", c.RemoveAsync(key))
}

// RemoveAt removes the child currently at index in the local list.
func (c *Collection[T]) RemoveAt(ctx context.Context, index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.entries) {
		n := len(c.entries)
		c.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, n)
	}
	key := c.entries[index].ID
	c.mu.Unlock()
	return c.Remove(ctx, key)
}

// SetAsync replaces the value of the child at key.
func (c *Collection[T]) SetAsync(key string, value T) *bridge.Future {
	if strings.TrimSpace(key) == "" {
		return bridge.Reject(ErrInvalidKey)
	}
	if c.Closed() {
		return bridge.Reject(ErrClosed)
	}
	return c.remote.SetChild(key, stripIdentity(value))
}

func (c *Collection[T]) Set(ctx context.Context, key string, value T) error {
	return wait(ctx, "set", c.SetAsync(key, value))
}

// MoveAsync reorders the child at key by giving it a sort priority. Children
// with a priority sort after those without, lowest first.
func (c *Collection[T]) MoveAsync(key string, priority float64) *bridge.Future {
	if strings.TrimSpace(key) == "" {
		return bridge.Reject(ErrInvalidKey)
	}
	if c.Closed() {
		return bridge.Reject(ErrClosed)
	}
	return c.remote.SetChildPriority(key, priority)
}

func (c *Collection[T]) Move(ctx context.Context, key string, priority float64) error {
	return wait(ctx, "move", c.MoveAsync(key, priority))
}

func wait(ctx context.Context, op string, f *bridge.Future) error {
	if err := f.Ack(ctx); err != nil {
		return wrap(op, err)
	}
	return nil
}

// wrap leaves local validation errors bare.
func wrap(op string, err error) error {
	switch err {
	case ErrNilValue, ErrInvalidKey, ErrClosed:
		return err
	}
	return fmt.Errorf("collection: %s: %w", op, err)
}

// PushedKey picks the key out of a resolved push, which carries the leading
// nil error first.
func PushedKey(results []any) string {
	for _, r := range results {
		if key, ok := r.(string); ok {
			return key
		}
	}
	return ""
}

func stripIdentity(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	if _, tagged := m[identityField]; !tagged {
		return value
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != identityField {
			out[k] = v
		}
	}
	return out
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}
