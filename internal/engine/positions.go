package engine

import (
	"context"
	"fmt"

	"checkorder/internal/domain"
	"checkorder/internal/events"
	"checkorder/internal/observability"
	"checkorder/internal/position"
	"checkorder/internal/repo"
)

// Move operation names, recorded in events and metrics.
const (
	MoveAboveOp      = "move_above"
	MoveBelowOp      = "move_below"
	MoveToTopOp      = "move_to_top"
	MoveToBottomOp   = "move_to_bottom"
	UpdatePositionOp = "update_position"
)

// UpdatePositionOptions sets any of the position fields directly.
type UpdatePositionOptions struct {
	ParentID    string
	ID          string
	Key         *position.Key
	Archived    *bool
	Indentation *int
	ActorID     string
}

func (e Engine) UpdatePosition(ctx context.Context, opts UpdatePositionOptions) (domain.Item, error) {
	if opts.Indentation != nil && *opts.Indentation < 0 {
		return domain.Item{}, fmt.Errorf("indentation must not be negative: %w", ErrInvalidArgument)
	}
	return e.move(ctx, opts.ParentID, opts.ID, opts.ActorID, UpdatePositionOp, func(it *domain.Item, rest []domain.Item) (events.EventPayload, error) {
		payload := events.EventPayload{}
		if opts.Key != nil {
			if holder := keyHolder(rest, *opts.Key, it.ID); holder != "" {
				return nil, fmt.Errorf("key %s already used by %s: %w", opts.Key, holder, ErrConflict)
			}
			it.Key = *opts.Key
		}
		if opts.Archived != nil {
			it.Archived = *opts.Archived
			payload["archived"] = it.Archived
		}
		if opts.Indentation != nil {
			it.Indentation = *opts.Indentation
			payload["indentation"] = it.Indentation
		}
		return payload, nil
	})
}

// MoveAbove places id directly before otherID: between otherID and the
// item currently in front of it, or DefaultOffset in front of otherID when
// otherID is first.
func (e Engine) MoveAbove(ctx context.Context, parentID, id, otherID, actorID string) (domain.Item, error) {
	return e.moveNextTo(ctx, parentID, id, otherID, actorID, true)
}

// MoveBelow places id directly after otherID.
func (e Engine) MoveBelow(ctx context.Context, parentID, id, otherID, actorID string) (domain.Item, error) {
	return e.moveNextTo(ctx, parentID, id, otherID, actorID, false)
}

func (e Engine) moveNextTo(ctx context.Context, parentID, id, otherID, actorID string, above bool) (domain.Item, error) {
	op := MoveBelowOp
	if above {
		op = MoveAboveOp
	}
	if id == otherID {
		return domain.Item{}, fmt.Errorf("cannot move %s relative to itself: %w", id, ErrInvalidArgument)
	}
	return e.move(ctx, parentID, id, actorID, op, func(it *domain.Item, rest []domain.Item) (events.EventPayload, error) {
		t := indexOf(rest, otherID)
		if t < 0 {
			return nil, fmt.Errorf("other item %s not in %s: %w", otherID, parentID, ErrInvalidArgument)
		}
		target := rest[t].Key
		var (
			k   position.Key
			err error
		)
		if above {
			var prev *position.Key
			if t > 0 {
				prev = &rest[t-1].Key
			}
			k, err = position.Between(e.Direction(parentID), prev, &target)
		} else {
			var next *position.Key
			if t+1 < len(rest) {
				next = &rest[t+1].Key
			}
			k, err = position.Between(e.Direction(parentID), &target, next)
		}
		if err != nil {
			return nil, err
		}
		it.Key = k
		return events.EventPayload{"other_id": otherID}, nil
	})
}

// MoveToTop places id DefaultOffset in front of the first item. An item
// already first keeps its key.
func (e Engine) MoveToTop(ctx context.Context, parentID, id, actorID string) (domain.Item, error) {
	return e.moveToEdge(ctx, parentID, id, actorID, position.Front)
}

// MoveToBottom places id DefaultOffset behind the last item.
func (e Engine) MoveToBottom(ctx context.Context, parentID, id, actorID string) (domain.Item, error) {
	return e.moveToEdge(ctx, parentID, id, actorID, position.Back)
}

func (e Engine) moveToEdge(ctx context.Context, parentID, id, actorID string, side position.Side) (domain.Item, error) {
	op := MoveToTopOp
	if side == position.Back {
		op = MoveToBottomOp
	}
	return e.move(ctx, parentID, id, actorID, op, func(it *domain.Item, rest []domain.Item) (events.EventPayload, error) {
		if len(rest) == 0 {
			return nil, nil
		}
		dir := e.Direction(parentID)
		edge := rest[0]
		if side == position.Back {
			edge = rest[len(rest)-1]
		}
		if side == position.Front && dir.Before(it.Key, edge.Key) {
			return nil, nil
		}
		if side == position.Back && dir.Before(edge.Key, it.Key) {
			return nil, nil
		}
		it.Key = position.EdgeInsert(dir, edge.Key, side)
		return events.EventPayload{}, nil
	})
}

// placeFunc edits it given the rest of the parent's sequence in order. A nil
// payload means nothing changed and no event is written.
type placeFunc func(it *domain.Item, rest []domain.Item) (events.EventPayload, error)

func (e Engine) move(ctx context.Context, parentID, id, actorID, op string, place placeFunc) (domain.Item, error) {
	unlock := e.lock(parentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	seq, err := e.siblings(ctx, tx, parentID)
	if err != nil {
		return domain.Item{}, err
	}
	i := indexOf(seq, id)
	if i < 0 {
		return domain.Item{}, fmt.Errorf("item %s in %s: %w", id, parentID, repo.ErrNotFound)
	}
	it := seq[i]
	from := it.Key
	rest := append(append([]domain.Item(nil), seq[:i]...), seq[i+1:]...)
	payload, err := place(&it, rest)
	if err != nil {
		return domain.Item{}, err
	}
	if payload == nil {
		return it, nil
	}
	it.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return domain.Item{}, err
	}
	payload["op"] = op
	payload["from"] = from.String()
	payload["to"] = it.Key.String()
	if err := e.Events.Append(ctx, tx, events.ItemMoved, parentID, id, actorID, payload); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	observability.RecordServerMove(op)
	e.Logger.Debug().Str("op", op).Str("parent_id", parentID).Str("item_id", id).
		Stringer("from", from).Stringer("to", it.Key).Msg("item moved")
	return it, nil
}

// CompactStart and CompactStep define the keys Compact assigns: the item
// first in order gets CompactStart, each following one CompactStep further.
const (
	CompactStart = 1
	CompactStep  = 4
)

// Compact rewrites every key under parentID to evenly spaced integers,
// keeping the current order. Long runs of bisection leave keys with many
// digits; compaction resets them.
func (e Engine) Compact(ctx context.Context, parentID, actorID string) ([]domain.Item, error) {
	if err := requireParent(parentID); err != nil {
		return nil, err
	}
	unlock := e.lock(parentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	seq, err := e.siblings(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}
	keys := compactKeys(e.Direction(parentID), len(seq))
	now := e.stamp()
	for i := range seq {
		seq[i].Key = keys[i]
		seq[i].UpdatedAt = now
		if err := e.Repo.UpdateKeyTx(ctx, tx, seq[i].ID, keys[i], now); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ParentCompacted, parentID, "", actorID, events.EventPayload{"count": len(seq)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Logger.Info().Str("parent_id", parentID).Int("count", len(seq)).Msg("parent compacted")
	return seq, nil
}

// compactKeys returns n keys in sequence order for dir.
func compactKeys(dir position.Direction, n int) []position.Key {
	keys := make([]position.Key, n)
	for i := range keys {
		rank := i
		if dir == position.Descending {
			rank = n - 1 - i
		}
		keys[i] = position.FromInt(int64(CompactStart + CompactStep*rank))
	}
	return keys
}

func indexOf(seq []domain.Item, id string) int {
	for i := range seq {
		if seq[i].ID == id {
			return i
		}
	}
	return -1
}
