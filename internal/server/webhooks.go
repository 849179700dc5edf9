package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"checkorder/internal/domain"
	"checkorder/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards new events to the configured webhook URL.
// Delivery is at least once; a failed post is retried on the next tick.
type WebhookDispatcher struct {
	Engine   engine.Engine
	URL      string
	Events   []string
	Interval time.Duration
	Client   *http.Client
	Logger   zerolog.Logger

	cursor int64
	filter eventFilter
}

// NewWebhookDispatcher returns nil when webhooks are disabled in the engine
// config.
func NewWebhookDispatcher(e engine.Engine, logger zerolog.Logger) *WebhookDispatcher {
	if e.Config == nil || !e.Config.Webhooks.Enabled || strings.TrimSpace(e.Config.Webhooks.URL) == "" {
		return nil
	}
	return &WebhookDispatcher{
		Engine:   e,
		URL:      strings.TrimSpace(e.Config.Webhooks.URL),
		Events:   e.Config.Webhooks.Events,
		Interval: defaultWebhookInterval,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Logger:   logger.With().Str("component", "webhooks").Logger(),
	}
}

// Run delivers events until ctx is done. Only events appended after Run
// starts are delivered.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	cur, err := d.Engine.Repo.LatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("init webhook cursor: %w", err)
	}
	d.cursor = cur
	d.filter = newEventFilter(d.Events)
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context) {
	events, err := d.Engine.EventsAfter(ctx, defaultWebhookBatch, d.cursor, "")
	if err != nil {
		d.Logger.Warn().Err(err).Msg("fetch events failed")
		return
	}
	for _, evt := range events {
		if !d.filter.match(evt.Type) {
			d.cursor = evt.ID
			continue
		}
		if err := d.postEvent(ctx, evt); err != nil {
			d.Logger.Warn().Err(err).Str("url", d.URL).Int64("event_id", evt.ID).Msg("deliver failed")
			return
		}
		d.Logger.Debug().Str("type", evt.Type).Int64("event_id", evt.ID).Msg("delivered")
		d.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	ParentID string          `json:"parent_id,omitempty"`
	EntityID string          `json:"entity_id,omitempty"`
	ActorID  string          `json:"actor_id"`
	TS       string          `json:"ts"`
	Payload  json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:       evt.ID,
		Type:     evt.Type,
		ParentID: evt.ParentID,
		EntityID: evt.EntityID,
		ActorID:  evt.ActorID,
		TS:       evt.TS,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Checkorder-Event", evt.Type)
	req.Header.Set("X-Checkorder-Delivery", fmt.Sprintf("%d", evt.ID))
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
