package utils

// FirstDuplicate returns the first element that also appears earlier in items.
func FirstDuplicate[T comparable](items []T) (T, bool) {
	seen := make(map[T]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			return item, true
		}
		seen[item] = struct{}{}
	}
	var zero T
	return zero, false
}
