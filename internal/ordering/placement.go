package ordering

import "fmt"

// Relation is where the moved item goes relative to its target, in the
// collection's direction: Above is before the target, Below after it.
type Relation int

const (
	None Relation = iota
	Above
	Below
)

func (r Relation) String() string {
	switch r {
	case Above:
		return "above"
	case Below:
		return "below"
	default:
		return "none"
	}
}

type Placement struct {
	Item     *Item
	Target   *Item
	Relation Relation
}

// ResolvePlacement describes the move of movedID in the rearranged seq by a
// single neighbour: the element now before it (Below), or the element now
// after it when it became first (Above).
func ResolvePlacement(seq []*Item, movedID string) (Placement, error) {
	i := IndexOf(seq, movedID)
	if i < 0 {
		return Placement{}, fmt.Errorf("resolve placement of %s: %w", movedID, ErrNotFound)
	}
	p := Placement{Item: seq[i]}
	switch {
	case len(seq) < 2:
	case i == 0:
		p.Target, p.Relation = seq[1], Above
	default:
		p.Target, p.Relation = seq[i-1], Below
	}
	return p, nil
}
