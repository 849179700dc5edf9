// Package engine is the authoritative ordering service: it stores items
// under their parents, hands out position keys and records an event for
// every change.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"checkorder/internal/config"
	"checkorder/internal/domain"
	"checkorder/internal/events"
	"checkorder/internal/ordering"
	"checkorder/internal/position"
	"checkorder/internal/reconcile"
	"checkorder/internal/repo"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger zerolog.Logger

	locks *parentLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: zerolog.Nop(),
		locks:  newParentLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) lock(parentID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(parentID)
}

// Direction is the sort direction of the sequence owned by parentID.
func (e Engine) Direction(parentID string) position.Direction {
	return e.Config.DirectionFor(parentID)
}

// Partition is the flag counted for the sequence owned by parentID:
// archived for the root sequence of lists, checked everywhere else.
func (e Engine) Partition(parentID string) ordering.Partition {
	if parentID == e.Config.Ordering.RootParentID {
		return ordering.PartitionArchived
	}
	return ordering.PartitionChecked
}

func (e Engine) sorted(parentID string, items []domain.Item) []domain.Item {
	dir := e.Direction(parentID)
	slices.SortStableFunc(items, func(a, b domain.Item) int { return dir.Compare(a.Key, b.Key) })
	return items
}

// siblings loads the parent's sequence in order inside tx.
func (e Engine) siblings(ctx context.Context, tx *sql.Tx, parentID string) ([]domain.Item, error) {
	items, err := e.Repo.ListItemsTx(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}
	return e.sorted(parentID, items), nil
}

func (e Engine) itemIn(ctx context.Context, tx *sql.Tx, parentID, id string) (domain.Item, error) {
	it, err := e.Repo.GetItemTx(ctx, tx, id)
	if err != nil {
		return it, err
	}
	if it.ParentID != parentID {
		return domain.Item{}, repo.ErrNotFound
	}
	return it, nil
}

func requireParent(parentID string) error {
	if strings.TrimSpace(parentID) == "" {
		return fmt.Errorf("parent id is required: %w", ErrInvalidArgument)
	}
	return nil
}

// CreateItemOptions are parameters for creating an item.
type CreateItemOptions struct {
	ID          string
	ParentID    string
	Text        string
	Checked     bool
	Archived    bool
	Indentation int
	// Key places the item explicitly; nil appends it after the last item.
	Key     *position.Key
	Attrs   map[string]any
	ActorID string
}

func (e Engine) CreateItem(ctx context.Context, opts CreateItemOptions) (domain.Item, error) {
	if err := requireParent(opts.ParentID); err != nil {
		return domain.Item{}, err
	}
	if opts.Indentation < 0 {
		return domain.Item{}, fmt.Errorf("indentation must not be negative: %w", ErrInvalidArgument)
	}
	unlock := e.lock(opts.ParentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	seq, err := e.siblings(ctx, tx, opts.ParentID)
	if err != nil {
		return domain.Item{}, err
	}
	var key position.Key
	if opts.Key != nil {
		if holder := keyHolder(seq, *opts.Key, ""); holder != "" {
			return domain.Item{}, fmt.Errorf("key %s already used by %s: %w", opts.Key, holder, ErrConflict)
		}
		key = *opts.Key
	} else {
		var last *position.Key
		if len(seq) > 0 {
			last = &seq[len(seq)-1].Key
		}
		if key, err = position.Between(e.Direction(opts.ParentID), last, nil); err != nil {
			return domain.Item{}, err
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	it := domain.Item{
		ID:          id,
		ParentID:    opts.ParentID,
		Text:        opts.Text,
		Key:         key,
		Archived:    opts.Archived,
		Indentation: opts.Indentation,
		Checked:     opts.Checked,
		Attrs:       opts.Attrs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ItemCreated, it.ParentID, it.ID, opts.ActorID, events.EventPayload{
		"key":  it.Key.String(),
		"text": it.Text,
	}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	e.Logger.Debug().Str("parent_id", it.ParentID).Str("item_id", it.ID).Stringer("key", it.Key).Msg("item created")
	return it, nil
}

// GetItem returns the item only when it lives under parentID.
func (e Engine) GetItem(ctx context.Context, parentID, id string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return it, err
	}
	if it.ParentID != parentID {
		return domain.Item{}, repo.ErrNotFound
	}
	return it, nil
}

// UpdateItemOptions carries the content fields to change. Attrs are merged
// into the stored attributes rather than replacing them.
type UpdateItemOptions struct {
	ParentID string
	ID       string
	Text     *string
	Checked  *bool
	Attrs    map[string]any
	ActorID  string
}

func (e Engine) UpdateItem(ctx context.Context, opts UpdateItemOptions) (domain.Item, error) {
	unlock := e.lock(opts.ParentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.itemIn(ctx, tx, opts.ParentID, opts.ID)
	if err != nil {
		return it, err
	}
	changed := map[string]any{}
	if opts.Text != nil && *opts.Text != it.Text {
		it.Text = *opts.Text
		changed["text"] = it.Text
	}
	if opts.Checked != nil && *opts.Checked != it.Checked {
		it.Checked = *opts.Checked
		changed["checked"] = it.Checked
	}
	if len(opts.Attrs) > 0 {
		if it.Attrs == nil {
			it.Attrs = map[string]any{}
		}
		if err := reconcile.MergeInPlace(opts.Attrs, it.Attrs); err != nil {
			return domain.Item{}, fmt.Errorf("attrs: %w", err)
		}
		changed["attrs"] = true
	}
	if len(changed) == 0 {
		return it, nil
	}
	it.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return domain.Item{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ItemUpdated, it.ParentID, it.ID, opts.ActorID, changed); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func (e Engine) DeleteItem(ctx context.Context, parentID, id, actorID string) error {
	unlock := e.lock(parentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.itemIn(ctx, tx, parentID, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteItemTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ItemDeleted, parentID, id, actorID, events.EventPayload{"key": it.Key.String()}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListOptions selects a window of one parent's sequence.
type ListOptions struct {
	Offset int
	// Limit <= 0 returns every remaining item.
	Limit int
	// Partition overrides the parent's default partition when non-empty.
	Partition string
	Flag      *bool
}

// ItemPage is an ordered window plus counters over the whole parent.
type ItemPage struct {
	Items     []domain.Item
	Partition ordering.Partition
	Counts    domain.Counts
}

func (e Engine) ListItems(ctx context.Context, parentID string, opts ListOptions) (ItemPage, error) {
	if opts.Offset < 0 {
		return ItemPage{}, fmt.Errorf("offset must not be negative: %w", ErrInvalidArgument)
	}
	part := e.Partition(parentID)
	if opts.Partition != "" {
		p, err := ordering.ParsePartition(opts.Partition)
		if err != nil {
			return ItemPage{}, fmt.Errorf("%v: %w", err, ErrInvalidArgument)
		}
		part = p
	}
	items, err := e.Repo.ListItems(ctx, parentID)
	if err != nil {
		return ItemPage{}, err
	}
	page := ItemPage{Partition: part}
	var window []domain.Item
	for _, it := range e.sorted(parentID, items) {
		flag := it.Flag(part)
		page.Counts.Total++
		if flag {
			page.Counts.Flagged++
		} else {
			page.Counts.Unflagged++
		}
		if opts.Flag != nil && *opts.Flag != flag {
			continue
		}
		window = append(window, it)
	}
	window = window[min(opts.Offset, len(window)):]
	if opts.Limit > 0 && len(window) > opts.Limit {
		window = window[:opts.Limit]
	}
	page.Items = window
	return page, nil
}

// Preview lists the first perParent items of several parents at once.
func (e Engine) Preview(ctx context.Context, parentIDs []string, perParent int) (map[string]ItemPage, error) {
	out := make(map[string]ItemPage, len(parentIDs))
	for _, id := range parentIDs {
		if id == "" {
			continue
		}
		page, err := e.ListItems(ctx, id, ListOptions{Limit: perParent})
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", id, err)
		}
		out[id] = page
	}
	return out, nil
}

// ListParents returns every parent id that owns items.
func (e Engine) ListParents(ctx context.Context) ([]string, error) {
	return e.Repo.ListParents(ctx)
}

// EventsAfter pages through the event log.
func (e Engine) EventsAfter(ctx context.Context, limit int, cursor int64, parentID string) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, limit, cursor, parentID)
}

// keyHolder returns the id of an item other than skip holding k.
func keyHolder(seq []domain.Item, k position.Key, skip string) string {
	for _, it := range seq {
		if it.ID != skip && it.Key.Equal(k) {
			return it.ID
		}
	}
	return ""
}
