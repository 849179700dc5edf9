// Package ordering holds the item model and the sequence algorithms that keep
// a key-ordered sequence consistent: sorted insertion, detection of a single
// misplaced element, placement resolution and subset reordering.
package ordering

import (
	"fmt"

	"checkorder/internal/position"
	"checkorder/internal/reconcile"
)

type Stage int

const (
	// Unconfirmed items were created locally and have no canonical key yet.
	Unconfirmed Stage = iota
	Confirmed
	// LocallyMoved items carry a provisional key the service has not echoed.
	LocallyMoved
	// Stale items failed their last remote call.
	Stale
	Deleted
)

func (s Stage) String() string {
	switch s {
	case Unconfirmed:
		return "unconfirmed"
	case Confirmed:
		return "confirmed"
	case LocallyMoved:
		return "locally_moved"
	case Stale:
		return "stale"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// CanTransition reports whether an item may move from s to next.
func (s Stage) CanTransition(next Stage) bool {
	if s == Deleted {
		return false
	}
	switch next {
	case Confirmed, Deleted:
		return true
	case LocallyMoved:
		return s == Confirmed || s == Stale
	case Stale:
		return s == LocallyMoved
	default:
		return false
	}
}

type Position struct {
	Key         position.Key `json:"key"`
	Archived    bool         `json:"archived"`
	Indentation int          `json:"indentation"`
}

type State struct {
	Checked bool `json:"checked"`
}

// Item is shared by pointer. Position, State and Attrs are updated in place
// by Absorb so references held by callers observe the new values.
type Item struct {
	ID       string         `json:"id"`
	ParentID string         `json:"parent_id"`
	Text     string         `json:"text"`
	Position *Position      `json:"position"`
	State    *State         `json:"state"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Stage    Stage          `json:"-"`
}

// Key returns the item's sort key, or the zero key when it has no position.
func (it *Item) Key() position.Key {
	if it.Position == nil {
		return position.Key{}
	}
	return it.Position.Key
}

func (it *Item) Transition(next Stage) error {
	if !it.Stage.CanTransition(next) {
		return fmt.Errorf("item %s: %s -> %s: %w", it.ID, it.Stage, next, ErrStageTransition)
	}
	it.Stage = next
	return nil
}

// SetKey writes k through the existing Position, allocating one if missing.
func (it *Item) SetKey(k position.Key) {
	if it.Position == nil {
		it.Position = &Position{}
	}
	it.Position.Key = k
}

// Absorb merges a fresher copy of the same item into it. Scalars are copied,
// Position and State are overwritten through the existing pointers and Attrs
// are merged with reconcile.MergeInPlace. The stage is left to the caller.
func (it *Item) Absorb(fresh *Item) error {
	if fresh == nil || fresh.ID != it.ID {
		return fmt.Errorf("absorb into %s: %w", it.ID, ErrMergeShapeMismatch)
	}
	if fresh.Attrs != nil {
		if it.Attrs == nil {
			it.Attrs = make(map[string]any, len(fresh.Attrs))
		}
		if err := reconcile.MergeInPlace(fresh.Attrs, it.Attrs); err != nil {
			return fmt.Errorf("absorb into %s: %w", it.ID, err)
		}
	}
	if fresh.ParentID != "" {
		it.ParentID = fresh.ParentID
	}
	it.Text = fresh.Text
	if fresh.Position != nil {
		it.AbsorbPosition(fresh.Position)
	}
	if fresh.State != nil {
		if it.State == nil {
			it.State = &State{}
		}
		*it.State = *fresh.State
	}
	return nil
}

// AbsorbPosition copies p into the item's existing Position.
func (it *Item) AbsorbPosition(p *Position) {
	if p == nil {
		return
	}
	if it.Position == nil {
		it.Position = &Position{}
	}
	*it.Position = *p
}

// Partition names the boolean flag a collection counts and filters by.
type Partition int

const (
	PartitionChecked Partition = iota
	PartitionArchived
)

func (p Partition) String() string {
	if p == PartitionArchived {
		return "archived"
	}
	return "checked"
}

func ParsePartition(s string) (Partition, error) {
	switch s {
	case "", "checked":
		return PartitionChecked, nil
	case "archived":
		return PartitionArchived, nil
	default:
		return PartitionChecked, fmt.Errorf("unknown partition %q", s)
	}
}

// Flag reads the partition flag of it.
func (p Partition) Flag(it *Item) bool {
	if p == PartitionArchived {
		return it.Position != nil && it.Position.Archived
	}
	return it.State != nil && it.State.Checked
}
