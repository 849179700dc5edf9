package ordering

import "checkorder/internal/position"

// Movement tells which way a misplaced element's key points relative to
// where it now sits.
type Movement int

const (
	NotMoved Movement = iota
	// MovedBefore: the key sorts ahead of the neighbour the element now
	// follows.
	MovedBefore
	// MovedAfter: the key sorts behind the neighbour the element now
	// precedes.
	MovedAfter
)

func (m Movement) String() string {
	switch m {
	case MovedBefore:
		return "before"
	case MovedAfter:
		return "after"
	default:
		return "none"
	}
}

type Misplacement struct {
	Index     int
	Direction Movement
	Item      *Item
	Prev      *Item
	Next      *Item
}

// FindOutOfOrder scans seq once for the first element whose key disagrees
// with its neighbours in dir. At most one element is expected to be out of
// place. Interior elements whose neighbours are themselves inverted are
// skipped, since one of those neighbours is the misplaced element.
func FindOutOfOrder(dir position.Direction, seq []*Item) (Misplacement, bool) {
	n := len(seq)
	if n < 2 {
		return Misplacement{}, false
	}
	for i, curr := range seq {
		var prev, next *Item
		if i > 0 {
			prev = seq[i-1]
		}
		if i < n-1 {
			next = seq[i+1]
		}
		m := Misplacement{Index: i, Item: curr, Prev: prev, Next: next}
		key := curr.Key()
		switch {
		case prev == nil:
			if dir.Before(next.Key(), key) {
				m.Direction = MovedAfter
				return m, true
			}
		case next == nil:
			if dir.Before(key, prev.Key()) {
				m.Direction = MovedBefore
				return m, true
			}
		case dir.Before(prev.Key(), next.Key()):
			if dir.Before(key, prev.Key()) {
				m.Direction = MovedBefore
				return m, true
			}
			if dir.Before(next.Key(), key) {
				m.Direction = MovedAfter
				return m, true
			}
		}
	}
	return Misplacement{}, false
}
