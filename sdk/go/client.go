package checkordersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"checkorder/internal/collection"
	"checkorder/internal/ordering"
)

// Client is the checkorder HTTP API client. It implements
// collection.Service, so a Collection can mirror a remote server.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

var _ collection.Service = (*Client)(nil)

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Event represents a log entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	ParentID string         `json:"parent_id"`
	EntityID string         `json:"entity_id"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Is lets callers test API errors against the ordering sentinels.
func (e *APIError) Is(target error) bool {
	switch {
	case errors.Is(target, ordering.ErrNotFound):
		return e.StatusCode == http.StatusNotFound
	case errors.Is(target, ordering.ErrMergeShapeMismatch):
		return e.Code == "merge_shape_mismatch"
	}
	return false
}

func (c *Client) CreateItem(ctx context.Context, parentID string, d collection.Draft) (*ordering.Item, error) {
	var resp ordering.Item
	if err := c.do(ctx, http.MethodPost, c.itemsPath(parentID), d, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateItem(ctx context.Context, parentID, itemID string, p collection.Patch) (*ordering.Item, error) {
	var resp ordering.Item
	if err := c.do(ctx, http.MethodPatch, c.itemPath(parentID, itemID, ""), p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchItem(ctx context.Context, parentID, itemID string) (*ordering.Item, error) {
	var resp ordering.Item
	if err := c.do(ctx, http.MethodGet, c.itemPath(parentID, itemID, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteItem(ctx context.Context, parentID, itemID string) error {
	return c.do(ctx, http.MethodDelete, c.itemPath(parentID, itemID, ""), nil, nil)
}

func (c *Client) ListItems(ctx context.Context, parentID string, q collection.ListQuery) (collection.Page, error) {
	params := url.Values{}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	params.Set("partition", q.Partition.String())
	if q.Flag != nil {
		params.Set("flag", strconv.FormatBool(*q.Flag))
	}
	var resp collection.Page
	err := c.do(ctx, http.MethodGet, c.itemsPath(parentID)+"?"+params.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) ListPreview(ctx context.Context, parentIDs []string, perParent int) (map[string]collection.Page, error) {
	params := url.Values{}
	params.Set("parent_ids", strings.Join(parentIDs, ","))
	params.Set("limit_per_parent", strconv.Itoa(perParent))
	var resp struct {
		Parents map[string]collection.Page `json:"parents"`
	}
	if err := c.do(ctx, http.MethodGet, "preview?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Parents, nil
}

func (c *Client) UpdatePosition(ctx context.Context, parentID, itemID string, p collection.PositionPatch) (*ordering.Position, error) {
	return c.position(ctx, c.itemPath(parentID, itemID, "position"), p)
}

func (c *Client) MoveAbove(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error) {
	return c.position(ctx, c.itemPath(parentID, itemID, "move/above/"+url.PathEscape(otherID)), nil)
}

func (c *Client) MoveBelow(ctx context.Context, parentID, itemID, otherID string) (*ordering.Position, error) {
	return c.position(ctx, c.itemPath(parentID, itemID, "move/below/"+url.PathEscape(otherID)), nil)
}

func (c *Client) MoveToTop(ctx context.Context, parentID, itemID string) (*ordering.Position, error) {
	return c.position(ctx, c.itemPath(parentID, itemID, "move/top"), nil)
}

func (c *Client) MoveToBottom(ctx context.Context, parentID, itemID string) (*ordering.Position, error) {
	return c.position(ctx, c.itemPath(parentID, itemID, "move/bottom"), nil)
}

// Compact rewrites every key of a parent, keeping the order.
func (c *Client) Compact(ctx context.Context, parentID string) ([]*ordering.Item, error) {
	var resp struct {
		Items []*ordering.Item `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "parents/"+url.PathEscape(parentID)+"/compact", nil, &resp)
	return resp.Items, err
}

// ListParents returns every parent id that owns items.
func (c *Client) ListParents(ctx context.Context) ([]string, error) {
	var resp struct {
		Items []string `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "parents", nil, &resp)
	return resp.Items, err
}

// EventsPage returns events after cursor, optionally for one parent.
func (c *Client) EventsPage(ctx context.Context, parentID string, limit int, cursor string) (PaginatedEvents, error) {
	params := url.Values{}
	if parentID != "" {
		params.Set("parent_id", parentID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("after", cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) position(ctx context.Context, endpoint string, body any) (*ordering.Position, error) {
	var resp ordering.Position
	if err := c.do(ctx, http.MethodPatch, endpoint, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) itemsPath(parentID string) string {
	return fmt.Sprintf("parents/%s/items", url.PathEscape(parentID))
}

func (c *Client) itemPath(parentID, itemID, suffix string) string {
	p := fmt.Sprintf("%s/%s", c.itemsPath(parentID), url.PathEscape(itemID))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
