package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"checkorder/internal/domain"
	"checkorder/internal/ordering"
	"checkorder/internal/position"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is shared with the ordering package so callers on either
// side of the service boundary can test for it the same way.
var ErrNotFound = ordering.ErrNotFound

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = `id,parent_id,text,position_key,archived,indentation,checked,attrs_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (domain.Item, error) {
	var (
		it    domain.Item
		key   string
		attrs sql.NullString
	)
	if err := s.Scan(&it.ID, &it.ParentID, &it.Text, &key, &it.Archived, &it.Indentation, &it.Checked, &attrs, &it.CreatedAt, &it.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return it, ErrNotFound
		}
		return it, err
	}
	k, err := position.Parse(key)
	if err != nil {
		return it, fmt.Errorf("item %s: %w", it.ID, err)
	}
	it.Key = k
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &it.Attrs); err != nil {
			return it, fmt.Errorf("item %s attrs: %w", it.ID, err)
		}
	}
	return it, nil
}

func marshalAttrs(attrs map[string]any) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attrs: %w", err)
	}
	return string(b), nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	attrs, err := marshalAttrs(it.Attrs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ParentID, it.Text, it.Key, it.Archived, it.Indentation, it.Checked, attrs, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, r.DB, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	return getItem(ctx, tx, id)
}

func getItem(ctx context.Context, q dbtx, id string) (domain.Item, error) {
	return scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

// UpdateItemTx rewrites every mutable column of it.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	attrs, err := marshalAttrs(it.Attrs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE items SET text=?,position_key=?,archived=?,indentation=?,checked=?,attrs_json=?,updated_at=? WHERE id=?`,
		it.Text, it.Key, it.Archived, it.Indentation, it.Checked, attrs, it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateKeyTx(ctx context.Context, tx *sql.Tx, id string, key position.Key, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE items SET position_key=?,updated_at=? WHERE id=?`, key, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItemTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItems returns every item under parentID in insertion order. Keys are
// stored as text, so callers sort them with the parent's direction.
func (r Repo) ListItems(ctx context.Context, parentID string) ([]domain.Item, error) {
	return listItems(ctx, r.DB, parentID)
}

func (r Repo) ListItemsTx(ctx context.Context, tx *sql.Tx, parentID string) ([]domain.Item, error) {
	return listItems(ctx, tx, parentID)
}

func listItems(ctx context.Context, q dbtx, parentID string) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE parent_id=? ORDER BY rowid`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ListParents returns the distinct parent ids that own at least one item.
func (r Repo) ListParents(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT parent_id FROM items ORDER BY parent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor,
// oldest first, optionally scoped to one parent.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, parentID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if parentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, parentID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(parent_id,''),COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ParentID, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event id, or 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
