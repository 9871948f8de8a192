package store

import (
	"fmt"
	"strconv"
	"strings"
)

const invalidKeyChars = ".#$[]"

// SplitPath normalizes a slash separated path into its segments. The root is
// the empty slice.
func SplitPath(path string) ([]string, error) {
	segments := []string{}
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		if err := ValidateKey(s); err != nil {
			return nil, err
		}
		segments = append(segments, s)
	}
	return segments, nil
}

func JoinPath(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

func ValidateKey(key string) error {
	if key == "" || strings.ContainsAny(key, invalidKeyChars) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	return nil
}

// CompareKeys orders sibling keys: keys that parse as 32 bit integers first, in
// numeric order, then the rest lexicographically.
func CompareKeys(a, b string) int {
	ai, aInt := intKey(a)
	bi, bInt := intKey(b)
	switch {
	case aInt && bInt:
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(a, b)
}

// ComparePriority orders unset priorities before set ones.
func ComparePriority(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func intKey(key string) (int64, bool) {
	i, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		return 0, false
	}
	// "007" is a string key
	return i, strconv.FormatInt(i, 10) == key
}
