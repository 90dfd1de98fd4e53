// Package task holds the persisted form of a resolved task: item documents
// with execution state, task metadata, and the ready-to-run query over them.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/deps"
	"github.com/marcus/makemagic/internal/digraph"
)

// Metadata keys maintained by the engine.
const (
	MetaUUID         = "uuid"
	MetaRequirements = "requirements"
	MetaCreatedAt    = "created_at"
	MetaCompletedAt  = "completed_at"
)

var (
	ErrSentinel  = errors.New("task must contain exactly one completion sentinel")
	ErrNoUUID    = errors.New("task metadata has no uuid")
	ErrDuplicate = errors.New("duplicate item")
)

// Task is one resolved execution context.
type Task struct {
	UUID         string
	Requirements []string
	Items        []Item
	Metadata     map[string]any
}

// New builds a task from a resolution. Items come out in dependency order,
// all INCOMPLETE. An empty id generates a fresh uuid. Caller metadata is
// kept, but uuid and requirements always reflect the task itself.
func New(res *deps.Resolution, id string, metadata map[string]any) *Task {
	if id == "" {
		id = uuid.NewString()
	}

	meta := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		meta[k] = v
	}
	reqs := res.Requirements.List()
	meta[MetaUUID] = id
	meta[MetaRequirements] = reqs
	if _, ok := meta[MetaCreatedAt]; !ok {
		meta[MetaCreatedAt] = time.Now().UTC().Format(time.RFC3339)
	}

	items := make([]Item, 0, len(res.Order))
	for _, name := range res.Order {
		inst, _ := res.Items.Get(name)
		items = append(items, Item{
			Name:        inst.Name,
			Description: inst.Description,
			Depends:     append([]string(nil), inst.Depends...),
			State:       Incomplete,
			Data:        copyMap(inst.Data),
		})
	}

	return &Task{UUID: id, Requirements: reqs, Items: items, Metadata: meta}
}

// FromDocuments rebuilds a task from stored documents. The item set must be
// closed under depends and hold exactly one sentinel.
func FromDocuments(items []Item, metadata map[string]any) (*Task, error) {
	id, _ := metadata[MetaUUID].(string)
	if id == "" {
		return nil, ErrNoUUID
	}

	sentinels := 0
	nodes := make(map[string][]string, len(items))
	for _, it := range items {
		if _, dup := nodes[it.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, it.Name)
		}
		nodes[it.Name] = it.Depends
		if it.IsSentinel() {
			sentinels++
		}
	}
	if sentinels != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrSentinel, sentinels)
	}
	if _, err := digraph.FromNodes(nodes); err != nil {
		return nil, err
	}

	return &Task{
		UUID:         id,
		Requirements: RequirementsOf(metadata),
		Items:        items,
		Metadata:     metadata,
	}, nil
}

// Item returns the named item.
func (t *Task) Item(name string) (Item, bool) {
	for _, it := range t.Items {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Sentinel returns the completion sentinel.
func (t *Task) Sentinel() Item {
	it, _ := t.Item(catalog.SentinelName)
	return it
}

// Goals returns the items the sentinel waits on.
func (t *Task) Goals() []string {
	return t.Sentinel().Depends
}

// Complete reports whether the sentinel has reached COMPLETE.
func (t *Task) Complete() bool {
	return t.Sentinel().State == Complete
}

// Counts tallies items per state, sentinel excluded.
func Counts(items []Item) map[State]int {
	counts := make(map[State]int, len(States))
	for _, it := range items {
		if it.IsSentinel() {
			continue
		}
		counts[it.State]++
	}
	return counts
}

// RequirementsOf reads the requirement list from metadata in either its
// native or JSON-decoded form.
func RequirementsOf(metadata map[string]any) []string {
	var out []string
	switch v := metadata[MetaRequirements].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type taskJSON struct {
	Items    []Item         `json:"items"`
	Metadata map[string]any `json:"metadata"`
}

// MarshalJSON writes the task as {"items": [...], "metadata": {...}}.
func (t *Task) MarshalJSON() ([]byte, error) {
	items := t.Items
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(taskJSON{Items: items, Metadata: t.Metadata})
}

// UnmarshalJSON reads the form written by MarshalJSON and validates it.
func (t *Task) UnmarshalJSON(b []byte) error {
	var raw taskJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := FromDocuments(raw.Items, raw.Metadata)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
