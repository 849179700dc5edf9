// Package domain holds the stored shapes of items and events.
package domain

import (
	"checkorder/internal/ordering"
	"checkorder/internal/position"
)

// Item is one row of the items table. Timestamps are RFC3339 strings.
type Item struct {
	ID          string
	ParentID    string
	Text        string
	Key         position.Key
	Archived    bool
	Indentation int
	Checked     bool
	Attrs       map[string]any
	CreatedAt   string
	UpdatedAt   string
}

// Ordering converts the row into the shared item model.
func (it Item) Ordering() *ordering.Item {
	return &ordering.Item{
		ID:       it.ID,
		ParentID: it.ParentID,
		Text:     it.Text,
		Position: it.Position(),
		State:    &ordering.State{Checked: it.Checked},
		Attrs:    it.Attrs,
	}
}

func (it Item) Position() *ordering.Position {
	return &ordering.Position{Key: it.Key, Archived: it.Archived, Indentation: it.Indentation}
}

// Flag reads the partition flag of the row.
func (it Item) Flag(p ordering.Partition) bool {
	if p == ordering.PartitionArchived {
		return it.Archived
	}
	return it.Checked
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

type Counts struct {
	Total     int `json:"total"`
	Flagged   int `json:"flagged"`
	Unflagged int `json:"unflagged"`
}
