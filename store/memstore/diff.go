package memstore

import (
	"reflect"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kevinxiao27/livelist/store"
)

func keySet(children []child) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, c := range children {
		set.Add(c.key)
	}
	return set
}

// childEvents describes the transition of one location's children from before
// to after. Applying the events in order to a list ordered like before yields
// a list ordered like after: removals first, then a left to right walk over the
// new order that inserts or moves each key right behind its new predecessor,
// then value changes.
func childEvents(before, after *node) []store.Event {
	oldChildren := before.sorted()
	newChildren := after.sorted()
	oldKeys := keySet(oldChildren)
	newKeys := keySet(newChildren)

	removed := oldKeys.Difference(newKeys)
	events := []store.Event{}

	sim := make([]string, 0, len(oldChildren))
	for _, c := range oldChildren {
		if removed.Contains(c.key) {
			events = append(events, store.Event{
				Kind:     store.ChildRemoved,
				Key:      c.key,
				Value:    c.node.export(),
				Priority: c.node.priority,
			})
			continue
		}
		sim = append(sim, c.key)
	}

	changed := []store.Event{}
	for i, c := range newChildren {
		prev := ""
		if i > 0 {
			prev = newChildren[i-1].key
		}
		ev := store.Event{Key: c.key, Value: c.node.export(), PrevKey: prev, Priority: c.node.priority}

		if !oldKeys.Contains(c.key) {
			ev.Kind = store.ChildAdded
			sim = slices.Insert(sim, i, c.key)
			events = append(events, ev)
			continue
		}

		// sim[:i] already matches the new order, so the key is at i or later
		if pos := slices.Index(sim, c.key); pos != i {
			moved := ev
			moved.Kind = store.ChildMoved
			sim = slices.Delete(sim, pos, pos+1)
			sim = slices.Insert(sim, i, c.key)
			events = append(events, moved)
		}

		if old := before.lookup([]string{c.key}); !sameNode(old, c.node) {
			ev.Kind = store.ChildChanged
			changed = append(changed, ev)
		}
	}

	return append(events, changed...)
}

func valueChanged(before, after *node) bool {
	return !reflect.DeepEqual(before.export(), after.export())
}

func initialChildEvents(n *node) []store.Event {
	children := n.sorted()
	events := make([]store.Event, 0, len(children))
	for i, c := range children {
		prev := ""
		if i > 0 {
			prev = children[i-1].key
		}
		events = append(events, store.Event{
			Kind:     store.ChildAdded,
			Key:      c.key,
			Value:    c.node.export(),
			PrevKey:  prev,
			Priority: c.node.priority,
		})
	}
	return events
}
