// Package slices provides slice helpers missing from the standard library.
package slices

// Unique returns values without zero values and without repeats, keeping the
// first occurrence of each.
func Unique[T comparable](values []T) []T {
	var zero T
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if v == zero {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
