// Package store persists tasks as opaque JSON documents: one metadata
// document per task and one document per item. Updates are conditional;
// a caller-supplied match is checked and the write applied atomically.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrItemNotFound = errors.New("item not found")
	ErrTaskExists   = errors.New("task already exists")
	ErrInvalidKey   = errors.New("invalid document key")
)

// Document is one stored JSON object.
type Document = map[string]any

// Store is the persistence contract the engine relies on.
//
// UpdateItem and UpdateMetadata set the fields in set only if every field in
// match currently holds the given value; a key absent from the document
// matches null. Both return the document after the attempt whether or not
// it applied. A failed match is not an error.
type Store interface {
	CreateTask(ctx context.Context, uuid string, items []Document, metadata Document) error
	ListTasks(ctx context.Context) ([]string, error)
	Item(ctx context.Context, uuid, name string) (Document, error)
	Items(ctx context.Context, uuid string) ([]Document, error)
	Metadata(ctx context.Context, uuid string) (Document, error)
	UpdateItem(ctx context.Context, uuid, name string, set, match Document) (Document, error)
	UpdateMetadata(ctx context.Context, uuid string, set, match Document) (Document, error)
	DeleteTask(ctx context.Context, uuid string) error
	Close() error
}

// checkKeys rejects keys that cannot be addressed as a single top-level
// JSON path label.
func checkKeys(docs ...Document) error {
	for _, doc := range docs {
		for k := range doc {
			if k == "" || strings.ContainsAny(k, `"\`) {
				return fmt.Errorf("%w: %q", ErrInvalidKey, k)
			}
		}
	}
	return nil
}

// normalize round-trips a value through JSON so comparisons and copies see
// the same shapes a persisted document would.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeDoc(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	v, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// matches reports whether doc holds every value in match.
func matches(doc, match Document) (bool, error) {
	for k, want := range match {
		w, err := normalize(want)
		if err != nil {
			return false, err
		}
		if !reflect.DeepEqual(doc[k], w) {
			return false, nil
		}
	}
	return true, nil
}

func itemName(doc Document) (string, error) {
	name, _ := doc["name"].(string)
	if name == "" {
		return "", fmt.Errorf("%w: item document without name", ErrInvalidKey)
	}
	return name, nil
}
