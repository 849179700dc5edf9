package collection

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"checkorder/internal/ordering"
	"checkorder/internal/position"
)

// fakeService is an in-memory ordering service placing keys the way the
// engine does. It hands out copies so tests can check identity.
type fakeService struct {
	mu     sync.Mutex
	dir    position.Direction
	items  map[string][]*ordering.Item
	fail   map[string]error
	during func(op string)
	nextID int
	calls  []string
}

func newFakeService() *fakeService {
	return &fakeService{items: map[string][]*ordering.Item{}, fail: map[string]error{}}
}

func clone(it *ordering.Item) *ordering.Item {
	out := *it
	out.Stage = ordering.Unconfirmed
	if it.Position != nil {
		p := *it.Position
		out.Position = &p
	}
	if it.State != nil {
		s := *it.State
		out.State = &s
	}
	if it.Attrs != nil {
		out.Attrs = maps.Clone(it.Attrs)
	}
	return &out
}

func (f *fakeService) seed(parentID string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		f.items[parentID] = append(f.items[parentID], &ordering.Item{
			ID:       "k" + k,
			ParentID: parentID,
			Text:     "item " + k,
			Position: &ordering.Position{Key: position.MustParse(k)},
			State:    &ordering.State{},
		})
	}
	ordering.Sort(f.dir, f.items[parentID])
}

func (f *fakeService) enter(op string) error {
	if f.during != nil {
		f.during(op)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeService) find(parentID, itemID string) (*ordering.Item, error) {
	i := ordering.IndexOf(f.items[parentID], itemID)
	if i < 0 {
		return nil, fmt.Errorf("item %s: %w", itemID, ordering.ErrNotFound)
	}
	return f.items[parentID][i], nil
}

func (f *fakeService) rest(parentID string, skip *ordering.Item) []*ordering.Item {
	var out []*ordering.Item
	for _, it := range f.items[parentID] {
		if it != skip {
			out = append(out, it)
		}
	}
	return out
}

func (f *fakeService) place(parentID string, it *ordering.Item, k position.Key) *ordering.Position {
	it.Position.Key = k
	ordering.Sort(f.dir, f.items[parentID])
	p := *it.Position
	return &p
}

func (f *fakeService) CreateItem(ctx context.Context, parentID string, d Draft) (*ordering.Item, error) {
	if err := f.enter(OpCreate); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	seq := f.items[parentID]
	var last *position.Key
	if len(seq) > 0 {
		k := seq[len(seq)-1].Key()
		last = &k
	}
	k, err := position.Between(f.dir, last, nil)
	if err != nil {
		return nil, err
	}
	it := &ordering.Item{
		ID:       fmt.Sprintf("new%d", f.nextID),
		ParentID: parentID,
		Text:     d.Text,
		Position: &ordering.Position{Key: k, Archived: d.Archived},
		State:    &ordering.State{Checked: d.Checked},
		Attrs:    d.Attrs,
	}
	f.items[parentID] = append(seq, it)
	return clone(it), nil
}

func (f *fakeService) UpdateItem(ctx context.Context, parentID, itemID string, p Patch) (*ordering.Item, error) {
	if err := f.enter(OpUpdate); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(parentID, itemID)
	if err != nil {
		return nil, err
	}
	if p.Text != nil {
		it.Text = *p.Text
	}
	if p.Checked != nil {
		it.State.Checked = *p.Checked
	}
	if p.Attrs != nil {
		it.Attrs = p.Attrs
	}
	return clone(it), nil
}

func (f *fakeService) FetchItem(ctx context.Context, parentID, itemID string) (*ordering.Item, error) {
	if err := f.enter(OpFetch); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(parentID, itemID)
	if err != nil {
		return nil, err
	}
	return clone(it), nil
}

func (f *fakeService) DeleteItem(ctx context.Context, parentID, itemID string) error {
	if err := f.enter(OpDelete); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(parentID, itemID)
	if err != nil {
		return err
	}
	f.items[parentID] = f.rest(parentID, it)
	return nil
}

func (f *fakeService) list(parentID string, q ListQuery) Page {
	var page Page
	for _, it := range f.items[parentID] {
		flag := q.Partition.Flag(it)
		page.TotalCount++
		if flag {
			page.FlaggedCount++
		} else {
			page.UnflaggedCount++
		}
		if q.Flag != nil && *q.Flag != flag {
			continue
		}
		page.Items = append(page.Items, clone(it))
	}
	if q.Offset > 0 {
		page.Items = page.Items[min(q.Offset, len(page.Items)):]
	}
	if q.Limit > 0 && len(page.Items) > q.Limit {
		page.Items = page.Items[:q.Limit]
	}
	return page
}

func (f *fakeService) ListItems(ctx context.Context, parentID string, q ListQuery) (Page, error) {
	if err := f.enter(OpList); err != nil {
		return Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list(parentID, q), nil
}

func (f *fakeService) ListPreview(ctx context.Context, parentIDs []string, perParent int) (map[string]Page, error) {
	if err := f.enter(OpPreview); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]Page, len(parentIDs))
	for _, id := range parentIDs {
		out[id] = f.list(id, ListQuery{Limit: perParent})
	}
	return out, nil
}

func (f *fakeService) UpdatePosition(ctx context.Context, parentID, itemID string, p PositionPatch) (*ordering.Position, error) {
	if err := f.enter(OpUpdatePosition); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(parentID, itemID)
	if err != nil {
		return nil, err
	}
	if p.Archived != nil {
		it.Position.Archived = *p.Archived
	}
	if p.Indentation != nil {
		it.Position.Indentation = *p.Indentation
	}
	k := it.Key()
	if p.Key != nil {
		k = *p.Key
	}
	return f.place(parentID, it, k), nil
}

func (f *fakeService) moveNextTo(op, parentID, itemID, otherID string, above bool) (*ordering.Position, error) {
	if err := f.enter(op); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(parentID, itemID)
	if err != nil {
		return nil, err
	}
	rest := f.rest(parentID, it)
	t := ordering.IndexOf(rest, otherID)
	if t < 0 {
		return nil, fmt.Errorf("other %s: %w", otherID, ordering.ErrNotFound)
	}
	target := rest[t].Key()
	var k position.Key
	if above {
		var prev *position.Key
		if t > 0 {
			pk := rest[t-1].Key()
			prev = &pk
		}
		k, err = position.Between(f.dir, prev, &target)
	} else {
		var next *position.Key
		if t+1 < len(rest) {
			nk := rest[t+1].Key()
			next = &nk
		}
		k, err = position.Between(f.dir, &target, next)
	}
	if err != nil {
		return nil, err
	}
	return f.place(parentID, it, k), nil
}

func (f *fakeService) MoveAbove(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error) {
	return f.moveNextTo(OpMoveAbove, parentID, itemID, otherID, true)
}

func (f *fakeService) MoveBelow(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error) {
	return f.moveNextTo(OpMoveBelow, parentID, itemID, otherID, false)
}

func (f *fakeService) moveToEdge(op, parentID, itemID string, side position.Side) (*ordering.Position, error) {
	if err := f.enter(op); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(parentID, itemID)
	if err != nil {
		return nil, err
	}
	rest := f.rest(parentID, it)
	if len(rest) == 0 {
		p := *it.Position
		return &p, nil
	}
	edge := rest[0]
	if side == position.Back {
		edge = rest[len(rest)-1]
	}
	return f.place(parentID, it, position.EdgeInsert(f.dir, edge.Key(), side)), nil
}

func (f *fakeService) MoveToTop(ctx context.Context, parentID, itemID string) (*ordering.Position, error) {
	return f.moveToEdge(OpMoveToTop, parentID, itemID, position.Front)
}

func (f *fakeService) MoveToBottom(ctx context.Context, parentID, itemID string) (*ordering.Position, error) {
	return f.moveToEdge(OpMoveToBottom, parentID, itemID, position.Back)
}

var _ Service = (*fakeService)(nil)
