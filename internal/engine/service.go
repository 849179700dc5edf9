package engine

import (
	"context"

	"checkorder/internal/collection"
	"checkorder/internal/domain"
	"checkorder/internal/ordering"
)

// Local serves a Collection straight from an Engine in the same process.
// Every change is attributed to ActorID.
type Local struct {
	Engine  Engine
	ActorID string
}

var _ collection.Service = Local{}

func toPage(p ItemPage) collection.Page {
	page := collection.Page{
		Items:          make([]*ordering.Item, 0, len(p.Items)),
		TotalCount:     p.Counts.Total,
		FlaggedCount:   p.Counts.Flagged,
		UnflaggedCount: p.Counts.Unflagged,
	}
	for _, it := range p.Items {
		page.Items = append(page.Items, it.Ordering())
	}
	return page
}

func positionOf(it domain.Item, err error) (*ordering.Position, error) {
	if err != nil {
		return nil, err
	}
	return it.Position(), nil
}

func itemOf(it domain.Item, err error) (*ordering.Item, error) {
	if err != nil {
		return nil, err
	}
	return it.Ordering(), nil
}

func (l Local) CreateItem(ctx context.Context, parentID string, d collection.Draft) (*ordering.Item, error) {
	return itemOf(l.Engine.CreateItem(ctx, CreateItemOptions{
		ParentID:    parentID,
		Text:        d.Text,
		Checked:     d.Checked,
		Archived:    d.Archived,
		Indentation: d.Indentation,
		Attrs:       d.Attrs,
		ActorID:     l.ActorID,
	}))
}

func (l Local) UpdateItem(ctx context.Context, parentID, itemID string, p collection.Patch) (*ordering.Item, error) {
	return itemOf(l.Engine.UpdateItem(ctx, UpdateItemOptions{
		ParentID: parentID,
		ID:       itemID,
		Text:     p.Text,
		Checked:  p.Checked,
		Attrs:    p.Attrs,
		ActorID:  l.ActorID,
	}))
}

func (l Local) FetchItem(ctx context.Context, parentID, itemID string) (*ordering.Item, error) {
	return itemOf(l.Engine.GetItem(ctx, parentID, itemID))
}

func (l Local) DeleteItem(ctx context.Context, parentID, itemID string) error {
	return l.Engine.DeleteItem(ctx, parentID, itemID, l.ActorID)
}

func (l Local) ListItems(ctx context.Context, parentID string, q collection.ListQuery) (collection.Page, error) {
	page, err := l.Engine.ListItems(ctx, parentID, ListOptions{
		Offset:    q.Offset,
		Limit:     q.Limit,
		Partition: q.Partition.String(),
		Flag:      q.Flag,
	})
	if err != nil {
		return collection.Page{}, err
	}
	return toPage(page), nil
}

func (l Local) ListPreview(ctx context.Context, parentIDs []string, perParent int) (map[string]collection.Page, error) {
	pages, err := l.Engine.Preview(ctx, parentIDs, perParent)
	if err != nil {
		return nil, err
	}
	out := make(map[string]collection.Page, len(pages))
	for id, p := range pages {
		out[id] = toPage(p)
	}
	return out, nil
}

func (l Local) UpdatePosition(ctx context.Context, parentID, itemID string, p collection.PositionPatch) (*ordering.Position, error) {
	return positionOf(l.Engine.UpdatePosition(ctx, UpdatePositionOptions{
		ParentID:    parentID,
		ID:          itemID,
		Key:         p.Key,
		Archived:    p.Archived,
		Indentation: p.Indentation,
		ActorID:     l.ActorID,
	}))
}

func (l Local) MoveAbove(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error) {
	return positionOf(l.Engine.MoveAbove(ctx, parentID, itemID, otherID, l.ActorID))
}

func (l Local) MoveBelow(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error) {
	return positionOf(l.Engine.MoveBelow(ctx, parentID, itemID, otherID, l.ActorID))
}

func (l Local) MoveToTop(ctx context.Context, parentID, itemID string) (*ordering.Position, error) {
	return positionOf(l.Engine.MoveToTop(ctx, parentID, itemID, l.ActorID))
}

func (l Local) MoveToBottom(ctx context.Context, parentID, itemID string) (*ordering.Position, error) {
	return positionOf(l.Engine.MoveToBottom(ctx, parentID, itemID, l.ActorID))
}
