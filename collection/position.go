package collection

// PositionOf returns the index of the entry with the given key, or -1.
func PositionOf[T any](key string, entries []Entry[T]) int {
	for i, e := range entries {
		if e.ID == key {
			return i
		}
	}
	return -1
}

// PositionAfter returns the insertion index for a child whose previous sibling
// is prevKey. An empty prevKey means first. A prevKey that is not known
// locally yet appends at the end.
func PositionAfter[T any](prevKey string, entries []Entry[T]) int {
	if prevKey == "" {
		return 0
	}
	i := PositionOf(prevKey, entries)
	if i == -1 {
		return len(entries)
	}
	return i + 1
}
