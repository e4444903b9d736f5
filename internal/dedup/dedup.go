// Package dedup provides the single deduplication primitive used at every
// scope of the collection pipeline: per-repository branch concatenation,
// the cross-repository merge, and per-person ledgers.
package dedup

// ByKey collapses items sharing a key down to the first occurrence,
// preserving input order. Items whose key is empty are dropped.
func ByKey[T any](items []T, key func(T) string) []T {
	if len(items) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	result := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, item)
	}
	return result
}
