package collection

import (
	"context"
	"fmt"
	"slices"

	"checkorder/internal/observability"
	"checkorder/internal/ordering"
	"checkorder/internal/position"
)

// Reorder applies a local rearrangement of parentID. newOrder lists the ids
// of the rearranged view, which may be a filtered window of the sequence.
// When movedID is empty the moved item is detected from the pre-move keys.
//
// The item gets a provisional key right away. The service is then asked to
// move it next to the neighbour picked by ordering.ResolvePlacement, and the
// canonical position it returns replaces the provisional key. If the call
// fails the previous key is restored, the item is marked Stale and a
// *RemoteError is returned.
func (c *Collection) Reorder(ctx context.Context, parentID string, newOrder []string, movedID string) error {
	unlock := c.lock(parentID)
	defer unlock()

	c.mu.RLock()
	view, err := c.viewLocked(parentID, newOrder)
	if err != nil {
		c.mu.RUnlock()
		return err
	}
	if movedID == "" {
		m, ok := ordering.FindOutOfOrder(c.cfg.Direction, view)
		if !ok {
			c.mu.RUnlock()
			observability.RecordReorder(c.cfg.Kind, observability.OutcomeNoop)
			return nil
		}
		movedID = m.Item.ID
		c.logger.Debug().
			Str("parent_id", parentID).
			Str("item_id", movedID).
			Int("index", m.Index).
			Stringer("direction", m.Direction).
			Msg("detected moved item")
	}
	p, err := ordering.ResolvePlacement(view, movedID)
	if err != nil {
		c.mu.RUnlock()
		return err
	}
	if p.Relation == ordering.None {
		c.mu.RUnlock()
		observability.RecordReorder(c.cfg.Kind, observability.OutcomeNoop)
		return nil
	}
	provisional, err := c.provisionalKeyLocked(parentID, p)
	c.mu.RUnlock()
	if err != nil {
		return c.defect(err, parentID)
	}

	op, move := OpMoveBelow, c.svc.MoveBelow
	if p.Relation == ordering.Above {
		op, move = OpMoveAbove, c.svc.MoveAbove
	}
	err = c.applyMove(ctx, parentID, p.Item, provisional, op, p.Target.ID, func(ctx context.Context) (*ordering.Position, error) {
		return move(ctx, parentID, p.Item.ID, p.Target.ID)
	})
	if err != nil {
		return err
	}

	c.mu.RLock()
	outcome := c.checkViewLocked(parentID, view)
	c.mu.RUnlock()
	observability.RecordReorder(c.cfg.Kind, outcome)
	return nil
}

// MoveToTop moves itemID to the front of its sequence.
func (c *Collection) MoveToTop(ctx context.Context, parentID, itemID string) error {
	return c.moveToEdge(ctx, parentID, itemID, position.Front)
}

// MoveToBottom moves itemID to the back of its sequence.
func (c *Collection) MoveToBottom(ctx context.Context, parentID, itemID string) error {
	return c.moveToEdge(ctx, parentID, itemID, position.Back)
}

func (c *Collection) moveToEdge(ctx context.Context, parentID, itemID string, side position.Side) error {
	unlock := c.lock(parentID)
	defer unlock()

	c.mu.RLock()
	i, err := c.indexLocked(parentID, itemID)
	if err != nil {
		c.mu.RUnlock()
		return err
	}
	seq := c.seqs[parentID]
	it := seq[i]
	edge := 0
	if side == position.Back {
		edge = len(seq) - 1
	}
	if i == edge {
		c.mu.RUnlock()
		observability.RecordReorder(c.cfg.Kind, observability.OutcomeNoop)
		return nil
	}
	provisional := position.EdgeInsert(c.cfg.Direction, seq[edge].Key(), side)
	c.mu.RUnlock()

	op, move := OpMoveToTop, c.svc.MoveToTop
	if side == position.Back {
		op, move = OpMoveToBottom, c.svc.MoveToBottom
	}
	err = c.applyMove(ctx, parentID, it, provisional, op, "", func(ctx context.Context) (*ordering.Position, error) {
		return move(ctx, parentID, itemID)
	})
	if err != nil {
		return err
	}
	observability.RecordReorder(c.cfg.Kind, observability.OutcomeConfirmed)
	return nil
}

// MoveAfter moves itemID right after afterID by writing a midpoint key
// through UpdatePosition. An empty afterID moves it to the front.
func (c *Collection) MoveAfter(ctx context.Context, parentID, itemID, afterID string) error {
	if itemID == afterID {
		return fmt.Errorf("move %s after itself", itemID)
	}
	unlock := c.lock(parentID)
	defer unlock()

	c.mu.RLock()
	i, err := c.indexLocked(parentID, itemID)
	if err != nil {
		c.mu.RUnlock()
		return err
	}
	seq := c.seqs[parentID]
	p := ordering.Placement{Item: seq[i], Relation: ordering.Below}
	if afterID == "" {
		if len(seq) < 2 {
			c.mu.RUnlock()
			return nil
		}
		p.Relation = ordering.Above
		p.Target = seq[0]
		if p.Target == p.Item {
			c.mu.RUnlock()
			observability.RecordReorder(c.cfg.Kind, observability.OutcomeNoop)
			return nil
		}
	} else {
		j, err := c.indexLocked(parentID, afterID)
		if err != nil {
			c.mu.RUnlock()
			return err
		}
		p.Target = seq[j]
	}
	provisional, err := c.provisionalKeyLocked(parentID, p)
	c.mu.RUnlock()
	if err != nil {
		return c.defect(err, parentID)
	}

	err = c.applyMove(ctx, parentID, p.Item, provisional, OpUpdatePosition, afterID, func(ctx context.Context) (*ordering.Position, error) {
		return c.svc.UpdatePosition(ctx, parentID, itemID, PositionPatch{Key: &provisional})
	})
	if err != nil {
		return err
	}
	observability.RecordReorder(c.cfg.Kind, observability.OutcomeConfirmed)
	return nil
}

// applyMove gives it the provisional key, runs call without holding the
// state lock and then either absorbs the canonical position or rolls the
// key back.
func (c *Collection) applyMove(ctx context.Context, parentID string, it *ordering.Item, provisional position.Key,
	op, otherID string, call func(context.Context) (*ordering.Position, error)) error {
	c.mu.Lock()
	prev := it.Key()
	if err := it.Transition(ordering.LocallyMoved); err != nil {
		c.mu.Unlock()
		return c.defect(err, parentID)
	}
	it.SetKey(provisional)
	c.sortLocked(parentID)
	c.mu.Unlock()

	c.logger.Debug().
		Str("parent_id", parentID).
		Str("item_id", it.ID).
		Str("op", op).
		Stringer("from", prev).
		Stringer("to", provisional).
		Msg("provisional move")

	var pos *ordering.Position
	err := c.remote(op, parentID, it.ID, otherID, func() (err error) {
		pos, err = call(ctx)
		return err
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		it.SetKey(prev)
		if terr := it.Transition(ordering.Stale); terr != nil {
			c.logger.Error().Err(terr).Str("item_id", it.ID).Msg("mark stale")
		}
		c.sortLocked(parentID)
		observability.RecordReorder(c.cfg.Kind, observability.OutcomeRolledBack)
		return err
	}
	if pos != nil {
		it.AbsorbPosition(pos)
	}
	if err := it.Transition(ordering.Confirmed); err != nil {
		return c.defect(err, parentID)
	}
	c.sortLocked(parentID)
	return nil
}

// viewLocked resolves the ids of a rearranged view against the sequence.
func (c *Collection) viewLocked(parentID string, ids []string) ([]*ordering.Item, error) {
	seq := c.seqs[parentID]
	byID := make(map[string]*ordering.Item, len(seq))
	for _, it := range seq {
		byID[it.ID] = it
	}
	view := make([]*ordering.Item, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("reorder %s: item %s: %w", parentID, id, ordering.ErrNotFound)
		}
		if seen[id] {
			return nil, fmt.Errorf("reorder %s: item %s listed twice: %w", parentID, id, ordering.ErrDuplicateID)
		}
		seen[id] = true
		view = append(view, it)
	}
	return view, nil
}

// provisionalKeyLocked computes the key the service will give p.Item: the
// midpoint between the target and its neighbour on the placement side, in
// the full sequence without the moved item.
func (c *Collection) provisionalKeyLocked(parentID string, p ordering.Placement) (position.Key, error) {
	seq := c.seqs[parentID]
	rest := make([]*ordering.Item, 0, len(seq))
	for _, it := range seq {
		if it != p.Item {
			rest = append(rest, it)
		}
	}
	t := ordering.IndexOf(rest, p.Target.ID)
	if t < 0 {
		return position.Key{}, fmt.Errorf("target %s in %s: %w", p.Target.ID, parentID, ordering.ErrNotFound)
	}
	var prev, next *position.Key
	target := rest[t].Key()
	switch p.Relation {
	case ordering.Above:
		next = &target
		if t > 0 {
			k := rest[t-1].Key()
			prev = &k
		}
	default:
		prev = &target
		if t+1 < len(rest) {
			k := rest[t+1].Key()
			next = &k
		}
	}
	return position.Between(c.cfg.Direction, prev, next)
}

// checkViewLocked folds the rearranged view back over the confirmed
// sequence and reports whether the service kept the order the caller asked
// for. The sequence itself stays sorted by key either way.
func (c *Collection) checkViewLocked(parentID string, view []*ordering.Item) string {
	inView := make(map[string]bool, len(view))
	for _, it := range view {
		inView[it.ID] = true
	}
	var window []*ordering.Item
	for _, it := range c.seqs[parentID] {
		if inView[it.ID] {
			window = append(window, it)
		}
	}
	folded := ordering.MergeSubsetOrder(slices.Clone(window), view)
	if ordering.IsSorted(c.cfg.Direction, folded) {
		return observability.OutcomeConfirmed
	}
	event := c.logger.Warn().Str("parent_id", parentID)
	if m, ok := ordering.FindOutOfOrder(c.cfg.Direction, folded); ok {
		event = event.Str("item_id", m.Item.ID).Stringer("direction", m.Direction)
	}
	event.Msg("service order differs from requested order, keeping key order")
	return observability.OutcomeResorted
}
