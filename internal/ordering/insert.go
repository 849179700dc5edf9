package ordering

import (
	"fmt"
	"slices"
	"sort"

	"checkorder/internal/position"
)

// IndexOf returns the index of the item with id, or -1.
func IndexOf(seq []*Item, id string) int {
	for i, it := range seq {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// InsertSorted inserts item into seq, which must already be sorted in dir,
// at the first index whose key does not sort before the item's key. On
// ErrDuplicateID seq is returned unchanged.
func InsertSorted(dir position.Direction, seq []*Item, item *Item) ([]*Item, error) {
	if IndexOf(seq, item.ID) >= 0 {
		return seq, fmt.Errorf("insert %s: %w", item.ID, ErrDuplicateID)
	}
	key := item.Key()
	i := sort.Search(len(seq), func(i int) bool {
		return !dir.Before(seq[i].Key(), key)
	})
	seq = append(seq, nil)
	copy(seq[i+1:], seq[i:])
	seq[i] = item
	return seq, nil
}

// Sort orders seq by key in dir. Items with equal keys keep their order.
func Sort(dir position.Direction, seq []*Item) {
	slices.SortStableFunc(seq, func(a, b *Item) int {
		return dir.Compare(a.Key(), b.Key())
	})
}

func IsSorted(dir position.Direction, seq []*Item) bool {
	for i := 1; i < len(seq); i++ {
		if dir.Before(seq[i].Key(), seq[i-1].Key()) {
			return false
		}
	}
	return true
}
