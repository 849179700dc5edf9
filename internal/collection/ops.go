package collection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"checkorder/internal/ordering"
)

// Insert places a newly observed item into its parent's sequence as
// confirmed.
func (c *Collection) Insert(parentID string, item *ordering.Item) error {
	unlock := c.lock(parentID)
	defer unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(parentID, item)
}

func (c *Collection) insertLocked(parentID string, item *ordering.Item) error {
	if item.ParentID == "" {
		item.ParentID = parentID
	}
	if item.Stage == ordering.Unconfirmed {
		if err := item.Transition(ordering.Confirmed); err != nil {
			return c.defect(err, parentID)
		}
	}
	seq, err := ordering.InsertSorted(c.cfg.Direction, c.seqs[parentID], item)
	if err != nil {
		return c.defect(err, parentID)
	}
	c.seqs[parentID] = seq
	c.bumpLocked(parentID, c.cfg.Partition.Flag(item), 1)
	return nil
}

// Reconcile merges fresh into the local copy of itemID.
func (c *Collection) Reconcile(parentID, itemID string, fresh *ordering.Item) error {
	unlock := c.lock(parentID)
	defer unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.indexLocked(parentID, itemID)
	if err != nil {
		return err
	}
	it := c.seqs[parentID][i]
	return c.absorbLocked(parentID, it, func() error { return it.Absorb(fresh) })
}

// absorbLocked runs apply on it, confirms it, keeps the counters in step
// with any flag change and resorts.
func (c *Collection) absorbLocked(parentID string, it *ordering.Item, apply func() error) error {
	before := c.cfg.Partition.Flag(it)
	if err := apply(); err != nil {
		return c.defect(err, parentID)
	}
	if err := it.Transition(ordering.Confirmed); err != nil {
		return c.defect(err, parentID)
	}
	if after := c.cfg.Partition.Flag(it); after != before {
		c.bumpLocked(parentID, before, -1)
		c.bumpLocked(parentID, after, 1)
	}
	c.sortLocked(parentID)
	return nil
}

// mergeLocked folds a page of fresh items into parentID's sequence, keeping
// the identity of items already held. With full set, local items missing
// from the page are dropped.
func (c *Collection) mergeLocked(parentID string, items []*ordering.Item, full bool) error {
	seq := c.seqs[parentID]
	byID := make(map[string]*ordering.Item, len(seq)+len(items))
	for _, it := range seq {
		byID[it.ID] = it
	}
	seen := make(map[string]bool, len(items))
	for _, fresh := range items {
		seen[fresh.ID] = true
		if it, ok := byID[fresh.ID]; ok {
			if err := it.Absorb(fresh); err != nil {
				return err
			}
			if err := it.Transition(ordering.Confirmed); err != nil {
				return err
			}
			continue
		}
		if fresh.ParentID == "" {
			fresh.ParentID = parentID
		}
		if err := fresh.Transition(ordering.Confirmed); err != nil {
			return err
		}
		seq = append(seq, fresh)
		byID[fresh.ID] = fresh
	}
	if full {
		kept := seq[:0]
		for _, it := range seq {
			if seen[it.ID] {
				kept = append(kept, it)
				continue
			}
			if err := it.Transition(ordering.Deleted); err != nil {
				return err
			}
		}
		clear(seq[len(kept):])
		seq = kept
	}
	c.seqs[parentID] = seq
	c.sortLocked(parentID)
	return nil
}

// Load fetches every item of parentID. Afterwards counts are answered from
// the sequence itself.
func (c *Collection) Load(ctx context.Context, parentID string) error {
	unlock := c.lock(parentID)
	defer unlock()

	var page Page
	err := c.remote(OpList, parentID, "", "", func() (err error) {
		page, err = c.svc.ListItems(ctx, parentID, ListQuery{Partition: c.cfg.Partition})
		return err
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mergeLocked(parentID, page.Items, true); err != nil {
		return c.defect(err, parentID)
	}
	c.full[parentID] = true
	c.counts[parentID] = Counts{Total: page.TotalCount, Flagged: page.FlaggedCount, Unflagged: page.UnflaggedCount}
	c.logger.Debug().Str("parent_id", parentID).Int("items", len(page.Items)).Msg("loaded")
	return nil
}

// Preview fetches the first perParent items of several parents and seeds
// their sequences and counters. Requests go out in batches, concurrently.
func (c *Collection) Preview(ctx context.Context, parentIDs []string, perParent int) error {
	var (
		mu    sync.Mutex
		pages = make(map[string]Page, len(parentIDs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.previewConcurrency)
	for start := 0; start < len(parentIDs); start += c.previewBatch {
		batch := parentIDs[start:min(start+c.previewBatch, len(parentIDs))]
		g.Go(func() error {
			var got map[string]Page
			err := c.remote(OpPreview, strings.Join(batch, ","), "", "", func() (err error) {
				got, err = c.svc.ListPreview(gctx, batch, perParent)
				return err
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for id, page := range got {
				pages[id] = page
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, parentID := range parentIDs {
		page, ok := pages[parentID]
		if !ok {
			continue
		}
		if err := c.seed(parentID, page); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) seed(parentID string, page Page) error {
	unlock := c.lock(parentID)
	defer unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mergeLocked(parentID, page.Items, false); err != nil {
		return c.defect(err, parentID)
	}
	if !c.full[parentID] {
		c.counts[parentID] = Counts{Total: page.TotalCount, Flagged: page.FlaggedCount, Unflagged: page.UnflaggedCount}
	}
	return nil
}

// Create asks the service for a new item and inserts the confirmed result.
func (c *Collection) Create(ctx context.Context, parentID string, d Draft) (*ordering.Item, error) {
	unlock := c.lock(parentID)
	defer unlock()

	var item *ordering.Item
	err := c.remote(OpCreate, parentID, "", "", func() (err error) {
		item, err = c.svc.CreateItem(ctx, parentID, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := item.Transition(ordering.Confirmed); err != nil {
		return nil, c.defect(err, parentID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.insertLocked(parentID, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Update applies p remotely and merges the result into the local item,
// which is returned.
func (c *Collection) Update(ctx context.Context, parentID, itemID string, p Patch) (*ordering.Item, error) {
	unlock := c.lock(parentID)
	defer unlock()
	it, err := c.Item(parentID, itemID)
	if err != nil {
		return nil, err
	}

	var fresh *ordering.Item
	err = c.remote(OpUpdate, parentID, itemID, "", func() (err error) {
		fresh, err = c.svc.UpdateItem(ctx, parentID, itemID, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.absorbLocked(parentID, it, func() error { return it.Absorb(fresh) }); err != nil {
		return nil, err
	}
	return it, nil
}

// Refresh fetches itemID and merges it, inserting it when not yet held.
func (c *Collection) Refresh(ctx context.Context, parentID, itemID string) (*ordering.Item, error) {
	unlock := c.lock(parentID)
	defer unlock()

	var fresh *ordering.Item
	err := c.remote(OpFetch, parentID, itemID, "", func() (err error) {
		fresh, err = c.svc.FetchItem(ctx, parentID, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := ordering.IndexOf(c.seqs[parentID], itemID)
	if i < 0 {
		if err := fresh.Transition(ordering.Confirmed); err != nil {
			return nil, c.defect(err, parentID)
		}
		if err := c.insertLocked(parentID, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	it := c.seqs[parentID][i]
	if err := c.absorbLocked(parentID, it, func() error { return it.Absorb(fresh) }); err != nil {
		return nil, err
	}
	return it, nil
}

// Delete removes itemID remotely, then locally. On a partially loaded
// parent an item outside the local window is dropped from the counters by
// re-reading them from the service.
func (c *Collection) Delete(ctx context.Context, parentID, itemID string) error {
	unlock := c.lock(parentID)
	defer unlock()

	err := c.remote(OpDelete, parentID, itemID, "", func() error {
		return c.svc.DeleteItem(ctx, parentID, itemID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	seq := c.seqs[parentID]
	i := ordering.IndexOf(seq, itemID)
	if i < 0 {
		_, seeded := c.counts[parentID]
		stale := seeded && !c.full[parentID]
		c.mu.Unlock()
		if stale {
			c.recount(ctx, parentID)
		}
		return nil
	}
	defer c.mu.Unlock()
	it := seq[i]
	c.seqs[parentID] = append(seq[:i], seq[i+1:]...)
	seq[len(seq)-1] = nil
	if err := it.Transition(ordering.Deleted); err != nil {
		return c.defect(err, parentID)
	}
	c.bumpLocked(parentID, c.cfg.Partition.Flag(it), -1)
	return nil
}

// recount replaces the service-reported counters of parentID. The caller
// holds the parent lock but not c.mu. A failure leaves the old counters.
func (c *Collection) recount(ctx context.Context, parentID string) {
	var page Page
	err := c.remote(OpList, parentID, "", "", func() (err error) {
		page, err = c.svc.ListItems(ctx, parentID, ListQuery{Limit: 1, Partition: c.cfg.Partition})
		return err
	})
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full[parentID] {
		c.counts[parentID] = Counts{Total: page.TotalCount, Flagged: page.FlaggedCount, Unflagged: page.UnflaggedCount}
	}
}

// UpdatePosition applies p remotely and absorbs the canonical position.
func (c *Collection) UpdatePosition(ctx context.Context, parentID, itemID string, p PositionPatch) (*ordering.Item, error) {
	unlock := c.lock(parentID)
	defer unlock()
	it, err := c.Item(parentID, itemID)
	if err != nil {
		return nil, err
	}

	var pos *ordering.Position
	err = c.remote(OpUpdatePosition, parentID, itemID, "", func() (err error) {
		pos, err = c.svc.UpdatePosition(ctx, parentID, itemID, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.absorbLocked(parentID, it, func() error { it.AbsorbPosition(pos); return nil }); err != nil {
		return nil, err
	}
	return it, nil
}

// SetFlag sets the partition flag of itemID: checked through the item
// state, archived through the position.
func (c *Collection) SetFlag(ctx context.Context, parentID, itemID string, flag bool) (*ordering.Item, error) {
	unlock := c.lock(parentID)
	defer unlock()
	it, err := c.Item(parentID, itemID)
	if err != nil {
		return nil, err
	}

	var apply func() error
	switch c.cfg.Partition {
	case ordering.PartitionArchived:
		var pos *ordering.Position
		err = c.remote(OpUpdatePosition, parentID, itemID, "", func() (err error) {
			pos, err = c.svc.UpdatePosition(ctx, parentID, itemID, PositionPatch{Archived: &flag})
			return err
		})
		apply = func() error { it.AbsorbPosition(pos); return nil }
	default:
		var fresh *ordering.Item
		err = c.remote(OpUpdate, parentID, itemID, "", func() (err error) {
			fresh, err = c.svc.UpdateItem(ctx, parentID, itemID, Patch{Checked: &flag})
			return err
		})
		apply = func() error { return it.Absorb(fresh) }
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.absorbLocked(parentID, it, apply); err != nil {
		return nil, fmt.Errorf("set %s on %s: %w", c.cfg.Partition, itemID, err)
	}
	return it, nil
}
