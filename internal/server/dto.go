package server

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"

	"checkorder/internal/domain"
	"checkorder/internal/engine"
	"checkorder/internal/position"
)

// KeyValue carries a position key on the wire. It is documented as an
// untyped value so both JSON numbers and decimal strings pass validation;
// decoding keeps every digit.
type KeyValue struct {
	position.Key
}

func (KeyValue) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		Description: "Decimal position key. Sent as a JSON number carrying every digit; a decimal string is also accepted.",
		Examples:    []any{0.4},
	}
}

func keyPtr(k *KeyValue) *position.Key {
	if k == nil {
		return nil
	}
	return &k.Key
}

// Request payloads

type CreateItemRequest struct {
	ID          *string        `json:"id,omitempty"`
	Text        string         `json:"text"`
	Checked     bool           `json:"checked,omitempty"`
	Archived    bool           `json:"archived,omitempty"`
	Indentation int            `json:"indentation,omitempty" minimum:"0"`
	Key         *KeyValue      `json:"key,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

type UpdateItemRequest struct {
	Text    *string        `json:"text,omitempty"`
	Checked *bool          `json:"checked,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

type UpdatePositionRequest struct {
	Key         *KeyValue `json:"key,omitempty"`
	Archived    *bool     `json:"archived,omitempty"`
	Indentation *int      `json:"indentation,omitempty" minimum:"0"`
}

type UpdateStateRequest struct {
	Checked bool `json:"checked"`
}

// Responses

type PositionResponse struct {
	Key         KeyValue `json:"key"`
	Archived    bool     `json:"archived"`
	Indentation int      `json:"indentation"`
}

type StateResponse struct {
	Checked bool `json:"checked"`
}

type ItemResponse struct {
	ID        string           `json:"id"`
	ParentID  string           `json:"parent_id"`
	Text      string           `json:"text"`
	Position  PositionResponse `json:"position"`
	State     StateResponse    `json:"state"`
	Attrs     map[string]any   `json:"attrs,omitempty"`
	CreatedAt string           `json:"created_at" format:"date-time"`
	UpdatedAt string           `json:"updated_at" format:"date-time"`
}

type ItemPageResponse struct {
	Items          []ItemResponse `json:"items"`
	Partition      string         `json:"partition" enum:"checked,archived"`
	TotalCount     int            `json:"total_count"`
	FlaggedCount   int            `json:"flagged_count"`
	UnflaggedCount int            `json:"unflagged_count"`
}

type PreviewResponse struct {
	Parents map[string]ItemPageResponse `json:"parents"`
}

type EventResponse struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts" format:"date-time"`
	Type     string         `json:"type"`
	ParentID string         `json:"parent_id,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func positionResponse(it domain.Item) PositionResponse {
	return PositionResponse{Key: KeyValue{it.Key}, Archived: it.Archived, Indentation: it.Indentation}
}

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:        it.ID,
		ParentID:  it.ParentID,
		Text:      it.Text,
		Position:  positionResponse(it),
		State:     StateResponse{Checked: it.Checked},
		Attrs:     it.Attrs,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

func mapItems(items []domain.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemResponse(it))
	}
	return out
}

func pageResponse(p engine.ItemPage) ItemPageResponse {
	return ItemPageResponse{
		Items:          mapItems(p.Items),
		Partition:      p.Partition.String(),
		TotalCount:     p.Counts.Total,
		FlaggedCount:   p.Counts.Flagged,
		UnflaggedCount: p.Counts.Unflagged,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:       e.ID,
		TS:       e.TS,
		Type:     e.Type,
		ParentID: e.ParentID,
		EntityID: e.EntityID,
		ActorID:  e.ActorID,
		Payload:  decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
