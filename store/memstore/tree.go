package memstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"

	"github.com/kevinxiao27/livelist/store"
)

// node is immutable once reachable from a committed root; writes copy the
// path from the root down to the changed location.
type node struct {
	value    any // leaf value, nil for interior nodes
	children map[string]*node
	priority *float64
}

type child struct {
	key  string
	node *node
}

func (n *node) leaf() bool {
	return n != nil && n.children == nil
}

func (n *node) lookup(path []string) *node {
	cur := n
	for _, seg := range path {
		if cur == nil || cur.children == nil {
			return nil
		}
		cur = cur.children[seg]
	}
	return cur
}

// sorted returns the children by priority, then key.
func (n *node) sorted() []child {
	if n == nil || n.children == nil {
		return nil
	}
	out := make([]child, 0, len(n.children))
	for k, c := range n.children {
		out = append(out, child{k, c})
	}
	slices.SortFunc(out, func(a, b child) int {
		if c := store.ComparePriority(a.node.priority, b.node.priority); c != 0 {
			return c
		}
		return store.CompareKeys(a.key, b.key)
	})
	return out
}

func (n *node) export() any {
	if n == nil {
		return nil
	}
	if n.children == nil {
		return n.value
	}
	out := make(map[string]any, len(n.children))
	for k, c := range n.children {
		out[k] = c.export()
	}
	return out
}

// setAt returns a copy of n with replacement installed at path. Interior nodes
// left without children are pruned.
func setAt(n *node, path []string, replacement *node) *node {
	if len(path) == 0 {
		return replacement
	}
	next := &node{children: map[string]*node{}}
	if n != nil && n.children != nil {
		next.children = maps.Clone(n.children)
		next.priority = n.priority
	}
	c := setAt(next.children[path[0]], path[1:], replacement)
	if c == nil {
		delete(next.children, path[0])
	} else {
		next.children[path[0]] = c
	}
	if len(next.children) == 0 {
		return nil
	}
	return next
}

func withPriority(n *node, priority *float64) *node {
	if n == nil {
		return nil
	}
	next := *n
	next.priority = priority
	return &next
}

// buildNode converts a JSON-like value into a tree. Slices become children
// keyed by index.
func buildNode(v any) (*node, error) {
	v, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return fromNormalized(v)
}

func fromNormalized(v any) (*node, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		n := &node{children: make(map[string]*node, len(t))}
		for k, cv := range t {
			if err := store.ValidateKey(k); err != nil {
				return nil, err
			}
			c, err := fromNormalized(cv)
			if err != nil {
				return nil, err
			}
			if c != nil {
				n.children[k] = c
			}
		}
		if len(n.children) == 0 {
			return nil, nil
		}
		return n, nil
	case []any:
		m := make(map[string]any, len(t))
		for i, cv := range t {
			m[strconv.Itoa(i)] = cv
		}
		return fromNormalized(m)
	}
	return &node{value: v}, nil
}

// normalize maps arbitrary Go values onto the JSON data model the remote
// store speaks: nil, bool, float64, string, []any and map[string]any.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("memstore: unsupported value %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sameNode(a, b *node) bool {
	if a == b {
		return true
	}
	if store.ComparePriority(a.priorityOrNil(), b.priorityOrNil()) != 0 {
		return false
	}
	return reflect.DeepEqual(a.export(), b.export())
}

func (n *node) priorityOrNil() *float64 {
	if n == nil {
		return nil
	}
	return n.priority
}
