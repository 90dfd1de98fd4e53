// Package magic is the engine API: it resolves tasks from the live catalog,
// persists them through a store, and answers and applies state changes.
// Everything an HTTP handler or CLI command needs goes through Engine.
package magic

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/deps"
	"github.com/marcus/makemagic/internal/logging"
	"github.com/marcus/makemagic/internal/predicate"
	"github.com/marcus/makemagic/internal/store"
	"github.com/marcus/makemagic/internal/task"
)

var (
	ErrTaskNotFound   = store.ErrTaskNotFound
	ErrItemNotFound   = store.ErrItemNotFound
	ErrInvalidState   = task.ErrInvalidState
	ErrInvalidInput   = errors.New("invalid input")
	ErrImmutableField = errors.New("cannot modify structural field")
	ErrNoCatalog      = errors.New("no item catalog loaded")
	ErrNotReady       = errors.New("task goals are not complete")
)

// TokenKey is the item field a Claim writes alongside the new state.
const TokenKey = "_change_state_token"

// OnlyIfKey nests a match condition inside an update body.
const OnlyIfKey = "onlyif"

var immutableItemFields = []string{
	catalog.KeyName,
	catalog.KeyDepends,
	catalog.KeyIf,
	catalog.KeyGroup,
	catalog.KeyContains,
}

// Engine ties a catalog to a store.
type Engine struct {
	store   store.Store
	catalog atomic.Pointer[catalog.Catalog]
	log     *logging.Logger
	now     func() time.Time
	token   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine over st. cat may be nil for read-only use.
func New(cat *catalog.Catalog, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		log:   logging.Component("engine"),
		now:   time.Now,
		token: newToken,
	}
	for _, opt := range opts {
		opt(e)
	}
	if cat != nil {
		e.catalog.Store(cat)
	}
	return e
}

// Catalog returns the live catalog, or nil.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog.Load()
}

// SetCatalog swaps in a new catalog. Existing tasks are unaffected.
func (e *Engine) SetCatalog(cat *catalog.Catalog) {
	if cat == nil {
		return
	}
	e.catalog.Store(cat)
	e.log.InfoCtx("catalog swapped", map[string]any{"summary": cat.Summary()})
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}

// Tasks lists task uuids.
func (e *Engine) Tasks(ctx context.Context) ([]string, error) {
	return e.store.ListTasks(ctx)
}

// CreateTask resolves the live catalog against requirements and persists
// the result. A string "uuid" in metadata is used as the task id; otherwise
// one is generated. Nothing is stored if resolution fails.
func (e *Engine) CreateTask(ctx context.Context, requirements []string, metadata map[string]any) (*task.Task, error) {
	cat := e.Catalog()
	if cat == nil {
		return nil, ErrNoCatalog
	}
	if requirements == nil {
		return nil, fmt.Errorf("%w: no requirements supplied to create task", ErrInvalidInput)
	}

	res, err := deps.Resolve(cat, predicate.NewRequirements(requirements...))
	if err != nil {
		if errors.Is(err, deps.ErrNoGoals) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("resolving task: %w", err)
	}

	id, _ := metadata[task.MetaUUID].(string)
	t := task.New(res, id, metadata)
	if err := e.persist(ctx, t); err != nil {
		return nil, err
	}

	e.log.WithTask(t.UUID).InfoCtx("task created", map[string]any{
		"requirements": t.Requirements,
		"items":        len(t.Items),
		"dropped":      res.Dropped,
	})
	return e.Task(ctx, t.UUID)
}

// ImportTask stores a task that was exported elsewhere, keeping its uuid
// and item states.
func (e *Engine) ImportTask(ctx context.Context, t *task.Task) error {
	if _, err := task.FromDocuments(t.Items, t.Metadata); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := e.persist(ctx, t); err != nil {
		return err
	}
	e.log.WithTask(t.UUID).Info("task imported")
	return nil
}

func (e *Engine) persist(ctx context.Context, t *task.Task) error {
	docs := make([]store.Document, len(t.Items))
	for i, it := range t.Items {
		docs[i] = it.Document()
	}
	if err := e.store.CreateTask(ctx, t.UUID, docs, t.Metadata); err != nil {
		if errors.Is(err, store.ErrTaskExists) {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return err
	}
	return nil
}

// Task loads a task with all its items and metadata.
func (e *Engine) Task(ctx context.Context, uuid string) (*task.Task, error) {
	meta, err := e.store.Metadata(ctx, uuid)
	if err != nil {
		return nil, err
	}
	docs, err := e.store.Items(ctx, uuid)
	if err != nil {
		return nil, err
	}
	items := make([]task.Item, 0, len(docs))
	for _, doc := range docs {
		it, err := task.DecodeItem(doc)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", uuid, err)
		}
		items = append(items, it)
	}
	return task.FromDocuments(items, meta)
}

// Item loads one item.
func (e *Engine) Item(ctx context.Context, uuid, name string) (task.Item, error) {
	doc, err := e.store.Item(ctx, uuid, name)
	if err != nil {
		return task.Item{}, err
	}
	return task.DecodeItem(doc)
}

// Metadata loads a task's metadata.
func (e *Engine) Metadata(ctx context.Context, uuid string) (map[string]any, error) {
	return e.store.Metadata(ctx, uuid)
}

// DeleteTask removes a task and all of its documents.
func (e *Engine) DeleteTask(ctx context.Context, uuid string) error {
	if err := e.store.DeleteTask(ctx, uuid); err != nil {
		return err
	}
	e.log.WithTask(uuid).Info("task deleted")
	return nil
}

// splitOnlyIf moves a nested "onlyif" object out of set and merges it into
// the explicit match.
func splitOnlyIf(set, onlyif map[string]any) (map[string]any, map[string]any, error) {
	fields := make(map[string]any, len(set))
	match := make(map[string]any, len(onlyif))
	for k, v := range onlyif {
		match[k] = v
	}
	for k, v := range set {
		if k != OnlyIfKey {
			fields[k] = v
			continue
		}
		nested, ok := v.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: can only set %q to an object", ErrInvalidInput, OnlyIfKey)
		}
		for mk, mv := range nested {
			match[mk] = mv
		}
	}
	return fields, match, nil
}
