// Package collection keeps client-side, key-ordered copies of the sequences
// held by an ordering Service and applies moves optimistically.
//
// A Collection is the only writer of its sequences. Mutating operations on
// one parent are serialised and hold the parent's lock across the remote
// call; readers never wait on I/O and observe provisional keys while a move
// is in flight.
package collection

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"checkorder/internal/observability"
	"checkorder/internal/ordering"
	"checkorder/internal/position"
)

// Config fixes how one kind of collection orders and counts its items.
type Config struct {
	// Kind labels logs and metrics, e.g. "lists" or "items".
	Kind      string
	Direction position.Direction
	Partition ordering.Partition
}

type Counts struct {
	Total     int `json:"total"`
	Flagged   int `json:"flagged"`
	Unflagged int `json:"unflagged"`
}

// Filter narrows Sequence to items whose partition flag equals *Flag.
type Filter struct {
	Flag *bool
}

type Option func(*Collection)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Collection) { c.logger = logger }
}

// WithPreviewConcurrency bounds the number of preview requests in flight.
func WithPreviewConcurrency(n int) Option {
	return func(c *Collection) {
		if n > 0 {
			c.previewConcurrency = n
		}
	}
}

type Collection struct {
	svc    Service
	cfg    Config
	logger zerolog.Logger

	previewConcurrency int
	previewBatch       int

	opsMu sync.Mutex
	ops   map[string]*sync.Mutex

	mu     sync.RWMutex
	seqs   map[string][]*ordering.Item
	counts map[string]Counts
	full   map[string]bool
}

func New(svc Service, cfg Config, opts ...Option) *Collection {
	if cfg.Kind == "" {
		cfg.Kind = "items"
	}
	c := &Collection{
		svc:                svc,
		cfg:                cfg,
		logger:             zerolog.Nop(),
		previewConcurrency: 4,
		previewBatch:       20,
		ops:                map[string]*sync.Mutex{},
		seqs:               map[string][]*ordering.Item{},
		counts:             map[string]Counts{},
		full:               map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("kind", cfg.Kind).Logger()
	return c
}

func (c *Collection) Config() Config { return c.cfg }

// lock serialises mutating operations on parentID.
func (c *Collection) lock(parentID string) func() {
	c.opsMu.Lock()
	m, ok := c.ops[parentID]
	if !ok {
		m = &sync.Mutex{}
		c.ops[parentID] = m
	}
	c.opsMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Sequence returns the ordered items of parentID matching filter. The slice
// is a copy; the items are shared. A negative limit returns everything.
func (c *Collection) Sequence(parentID string, filter Filter, limit int) []*ordering.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit == 0 {
		return []*ordering.Item{}
	}
	seq := c.seqs[parentID]
	out := make([]*ordering.Item, 0, len(seq))
	for _, it := range seq {
		if filter.Flag != nil && c.cfg.Partition.Flag(it) != *filter.Flag {
			continue
		}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Item returns the local copy of itemID.
func (c *Collection) Item(parentID, itemID string) (*ordering.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seq := c.seqs[parentID]
	i := ordering.IndexOf(seq, itemID)
	if i < 0 {
		return nil, fmt.Errorf("item %s in %s: %w", itemID, parentID, ordering.ErrNotFound)
	}
	return seq[i], nil
}

// Counts answers from the sequence once parentID was fully loaded, and from
// the counters reported by the service otherwise.
func (c *Collection) Counts(parentID string) Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countsLocked(parentID)
}

// Count returns the total when flag is nil, otherwise the number of items
// whose partition flag equals *flag.
func (c *Collection) Count(parentID string, flag *bool) int {
	counts := c.Counts(parentID)
	switch {
	case flag == nil:
		return counts.Total
	case *flag:
		return counts.Flagged
	default:
		return counts.Unflagged
	}
}

// FullyLoaded reports whether Load has fetched every item of parentID.
func (c *Collection) FullyLoaded(parentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.full[parentID]
}

func (c *Collection) countsLocked(parentID string) Counts {
	if !c.full[parentID] {
		return c.counts[parentID]
	}
	var out Counts
	for _, it := range c.seqs[parentID] {
		out.Total++
		if c.cfg.Partition.Flag(it) {
			out.Flagged++
		} else {
			out.Unflagged++
		}
	}
	return out
}

// bumpLocked adjusts the service-reported counters of a partially loaded
// parent.
func (c *Collection) bumpLocked(parentID string, flagged bool, delta int) {
	if c.full[parentID] {
		return
	}
	counts := c.counts[parentID]
	counts.Total += delta
	if flagged {
		counts.Flagged += delta
	} else {
		counts.Unflagged += delta
	}
	c.counts[parentID] = counts
}

func (c *Collection) indexLocked(parentID, itemID string) (int, error) {
	i := ordering.IndexOf(c.seqs[parentID], itemID)
	if i < 0 {
		return -1, fmt.Errorf("item %s in %s: %w", itemID, parentID, ordering.ErrNotFound)
	}
	return i, nil
}

func (c *Collection) sortLocked(parentID string) {
	ordering.Sort(c.cfg.Direction, c.seqs[parentID])
}

// remote runs one Service call and wraps its failure.
func (c *Collection) remote(op, parentID, itemID, otherID string, call func() error) error {
	start := time.Now()
	err := call()
	observability.RecordRemoteOp(c.cfg.Kind, op, err, time.Since(start))
	if err == nil {
		return nil
	}
	c.logger.Warn().Err(err).
		Str("op", op).
		Str("parent_id", parentID).
		Str("item_id", itemID).
		Str("other_id", otherID).
		Msg("remote operation failed")
	return &RemoteError{Op: op, ParentID: parentID, ItemID: itemID, OtherID: otherID, Err: err}
}

// defect logs a structural error, which indicates a bug rather than a
// recoverable condition, and returns it.
func (c *Collection) defect(err error, parentID string) error {
	c.logger.Error().Err(err).Str("parent_id", parentID).Msg("ordering invariant violated")
	return err
}
