package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ItemCreated     = "item.created"
	ItemUpdated     = "item.updated"
	ItemMoved       = "item.moved"
	ItemDeleted     = "item.deleted"
	ParentCompacted = "parent.compacted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, parentID, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,parent_id,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(parentID), nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
