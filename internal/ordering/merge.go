package ordering

import "slices"

// MergeSubsetOrder stably reorders main so the items also present in subset
// follow subset's order. Items missing from subset keep their relative order
// and end up after all matched ones. main is sorted in place and returned.
func MergeSubsetOrder(main, subset []*Item) []*Item {
	rank := make(map[string]int, len(subset))
	for i, it := range subset {
		if _, ok := rank[it.ID]; !ok {
			rank[it.ID] = i
		}
	}
	unmatched := len(subset)
	rankOf := func(it *Item) int {
		if r, ok := rank[it.ID]; ok {
			return r
		}
		return unmatched
	}
	slices.SortStableFunc(main, func(a, b *Item) int {
		return rankOf(a) - rankOf(b)
	})
	return main
}
