package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/marcus/makemagic/internal/db"
)

// SQLite stores documents as JSON text. Conditional updates run as a single
// UPDATE whose WHERE clause carries the match, so the check and the write
// cannot interleave with another writer.
type SQLite struct {
	db *db.DB
}

// OpenSQLite opens the database at path and returns a store over it.
func OpenSQLite(path string) (*SQLite, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: database}, nil
}

// NewSQLite wraps an already open database.
func NewSQLite(database *db.DB) *SQLite {
	return &SQLite{db: database}
}

func (s *SQLite) CreateTask(ctx context.Context, uuid string, items []Document, metadata Document) error {
	if metadata == nil {
		metadata = Document{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE uuid = ?`, uuid).Scan(&exists); err != nil {
			return fmt.Errorf("checking task: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrTaskExists, uuid)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (uuid, metadata) VALUES (?, json(?))`, uuid, string(meta)); err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		for pos, it := range items {
			if err := checkKeys(it); err != nil {
				return err
			}
			name, err := itemName(it)
			if err != nil {
				return err
			}
			doc, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("encoding item %q: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO items (task_uuid, name, position, doc) VALUES (?, ?, ?, json(?))`,
				uuid, name, pos, string(doc)); err != nil {
				return fmt.Errorf("inserting item %q: %w", name, err)
			}
		}
		return nil
	})
}

func (s *SQLite) ListTasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT uuid FROM tasks ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		out = append(out, uuid)
	}
	return out, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) Item(ctx context.Context, uuid, name string) (Document, error) {
	return itemIn(ctx, s.db.SQL(), uuid, name)
}

func itemIn(ctx context.Context, q querier, uuid, name string) (Document, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT doc FROM items WHERE task_uuid = ? AND name = ?`, uuid, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if _, terr := metadataIn(ctx, q, uuid); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrItemNotFound, uuid, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading item: %w", err)
	}
	return decodeDoc(raw)
}

func (s *SQLite) Items(ctx context.Context, uuid string) ([]Document, error) {
	if _, err := s.Metadata(ctx, uuid); err != nil {
		return nil, err
	}
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT doc FROM items WHERE task_uuid = ? ORDER BY position`, uuid)
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLite) Metadata(ctx context.Context, uuid string) (Document, error) {
	return metadataIn(ctx, s.db.SQL(), uuid)
}

func metadataIn(ctx context.Context, q querier, uuid string) (Document, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT metadata FROM tasks WHERE uuid = ?`, uuid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return decodeDoc(raw)
}

func (s *SQLite) UpdateItem(ctx context.Context, uuid, name string, set, match Document) (Document, error) {
	if err := checkKeys(set, match); err != nil {
		return nil, err
	}
	setSQL, setArgs, err := jsonSet("doc", set)
	if err != nil {
		return nil, err
	}
	whereSQL, whereArgs, err := jsonMatch("doc", match)
	if err != nil {
		return nil, err
	}

	query := `UPDATE items SET doc = ` + setSQL + ` WHERE task_uuid = ? AND name = ?` + whereSQL
	args := append(setArgs, uuid, name)
	args = append(args, whereArgs...)

	var doc Document
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("updating item: %w", err)
		}
		doc, err = itemIn(ctx, tx, uuid, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLite) UpdateMetadata(ctx context.Context, uuid string, set, match Document) (Document, error) {
	if err := checkKeys(set, match); err != nil {
		return nil, err
	}
	setSQL, setArgs, err := jsonSet("metadata", set)
	if err != nil {
		return nil, err
	}
	whereSQL, whereArgs, err := jsonMatch("metadata", match)
	if err != nil {
		return nil, err
	}

	query := `UPDATE tasks SET metadata = ` + setSQL + ` WHERE uuid = ?` + whereSQL
	args := append(setArgs, uuid)
	args = append(args, whereArgs...)

	var doc Document
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("updating metadata: %w", err)
		}
		doc, err = metadataIn(ctx, tx, uuid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLite) DeleteTask(ctx context.Context, uuid string) error {
	res, err := s.db.SQL().ExecContext(ctx, `DELETE FROM tasks WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, uuid)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// jsonSet builds json_set(col, path, json(value), ...) for every key in set,
// in sorted key order so statements are stable.
func jsonSet(col string, set Document) (string, []any, error) {
	if len(set) == 0 {
		return col, nil, nil
	}
	var b strings.Builder
	var args []any
	b.WriteString("json_set(" + col)
	for _, k := range sortedKeys(set) {
		v, err := json.Marshal(set[k])
		if err != nil {
			return "", nil, fmt.Errorf("encoding %q: %w", k, err)
		}
		b.WriteString(", ?, json(?)")
		args = append(args, jsonPath(k), string(v))
	}
	b.WriteString(")")
	return b.String(), args, nil
}

// jsonMatch builds the AND clauses comparing each field with its expected
// value. json_extract turns true into 1, so the JSON types are compared as
// well, with integer and real treated alike. An absent key has type null.
func jsonMatch(col string, match Document) (string, []any, error) {
	var b strings.Builder
	var args []any
	for _, k := range sortedKeys(match) {
		v, err := json.Marshal(match[k])
		if err != nil {
			return "", nil, fmt.Errorf("encoding %q: %w", k, err)
		}
		b.WriteString(" AND json_extract(" + col + ", ?) IS json_extract(?, '$')")
		b.WriteString(" AND replace(coalesce(json_type(" + col + ", ?), 'null'), 'real', 'integer')" +
			" = replace(json_type(?, '$'), 'real', 'integer')")
		args = append(args, jsonPath(k), string(v), jsonPath(k), string(v))
	}
	return b.String(), args, nil
}

func jsonPath(key string) string {
	return `$."` + key + `"`
}

func decodeDoc(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

func sortedKeys(doc Document) []string {
	out := make([]string, 0, len(doc))
	for k := range doc {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
