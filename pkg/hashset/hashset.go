// Package hashset is a generic set backed by a map.
package hashset

type Set[T comparable] map[T]struct{}

func (vs Set[T]) Set(v T) {
	vs[v] = struct{}{}
}

func (vs Set[T]) Has(v T) bool {
	_, ok := vs[v]
	return ok
}

// Unique drops repeated values, keeping the first occurrence of each.
func Unique[T comparable](vals []T) []T {
	seen := make(Set[T], len(vals))
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		if seen.Has(v) {
			continue
		}
		seen.Set(v)
		out = append(out, v)
	}
	return out
}
