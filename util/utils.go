package util

func Filter[T any](ts []T, fn func(T) bool) []T {
	result := []T{}
	for _, v := range ts {
		if fn(v) {
			result = append(result, v)
		}
	}
	return result
}

func Reduce[T, V any](ts []T, acc func(t T, v V) V, base V) V {
	for _, v := range ts {
		base = acc(v, base)
	}

	return base
}

func Choose[T any](cond bool, a T, b T) T {
	if cond {
		return a
	}
	return b
}

// Insert places v at pos, shifting the tail right. The slice is modified in place
// when it has spare capacity.
func Insert[T any](ts []T, pos int, v T) []T {
	var zero T
	ts = append(ts, zero)
	copy(ts[pos+1:], ts[pos:])
	ts[pos] = v
	return ts
}

func RemoveAt[T any](ts []T, pos int) []T {
	copy(ts[pos:], ts[pos+1:])
	var zero T
	ts[len(ts)-1] = zero // release for gc
	return ts[:len(ts)-1]
}
