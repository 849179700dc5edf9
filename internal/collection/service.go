package collection

import (
	"context"
	"fmt"
	"strings"

	"checkorder/internal/ordering"
	"checkorder/internal/position"
)

// Service is the authoritative ordering service a Collection mirrors. The
// HTTP SDK and the in-process engine adapter both implement it.
type Service interface {
	CreateItem(ctx context.Context, parentID string, d Draft) (*ordering.Item, error)
	UpdateItem(ctx context.Context, parentID, itemID string, p Patch) (*ordering.Item, error)
	FetchItem(ctx context.Context, parentID, itemID string) (*ordering.Item, error)
	DeleteItem(ctx context.Context, parentID, itemID string) error
	ListItems(ctx context.Context, parentID string, q ListQuery) (Page, error)
	UpdatePosition(ctx context.Context, parentID, itemID string, p PositionPatch) (*ordering.Position, error)
	MoveAbove(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error)
	MoveBelow(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error)
	MoveToTop(ctx context.Context, parentID, itemID string) (*ordering.Position, error)
	MoveToBottom(ctx context.Context, parentID, itemID string) (*ordering.Position, error)
	ListPreview(ctx context.Context, parentIDs []string, perParent int) (map[string]Page, error)
}

type Draft struct {
	Text        string         `json:"text"`
	Checked     bool           `json:"checked,omitempty"`
	Archived    bool           `json:"archived,omitempty"`
	Indentation int            `json:"indentation,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

type Patch struct {
	Text    *string        `json:"text,omitempty"`
	Checked *bool          `json:"checked,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

type PositionPatch struct {
	Key         *position.Key `json:"key,omitempty"`
	Archived    *bool         `json:"archived,omitempty"`
	Indentation *int          `json:"indentation,omitempty"`
}

// ListQuery selects a window of a parent's items. Limit <= 0 means all.
// Flag filters on the Partition flag when set.
type ListQuery struct {
	Offset    int
	Limit     int
	Partition ordering.Partition
	Flag      *bool
}

type Page struct {
	Items          []*ordering.Item `json:"items"`
	TotalCount     int              `json:"total_count"`
	FlaggedCount   int              `json:"flagged_count"`
	UnflaggedCount int              `json:"unflagged_count"`
}

// Remote operation names, used in RemoteError and metrics.
const (
	OpCreate         = "create_item"
	OpUpdate         = "update_item"
	OpFetch          = "fetch_item"
	OpDelete         = "delete_item"
	OpList           = "list_items"
	OpPreview        = "list_preview"
	OpUpdatePosition = "update_position"
	OpMoveAbove      = "move_above"
	OpMoveBelow      = "move_below"
	OpMoveToTop      = "move_to_top"
	OpMoveToBottom   = "move_to_bottom"
)

// RemoteError wraps a failed Service call with the ids it was issued for.
type RemoteError struct {
	Op       string
	ParentID string
	ItemID   string
	OtherID  string
	Err      error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "remote %s", e.Op)
	if e.ParentID != "" {
		fmt.Fprintf(&b, " parent=%s", e.ParentID)
	}
	if e.ItemID != "" {
		fmt.Fprintf(&b, " item=%s", e.ItemID)
	}
	if e.OtherID != "" {
		fmt.Fprintf(&b, " other=%s", e.OtherID)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }
