package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memTask struct {
	metadata Document
	order    []string
	items    map[string]Document
}

// Memory is an in-process Store guarded by a mutex.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*memTask
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*memTask)}
}

func (m *Memory) CreateTask(_ context.Context, uuid string, items []Document, metadata Document) error {
	t := &memTask{items: make(map[string]Document, len(items))}
	meta, err := normalizeDoc(metadata)
	if err != nil {
		return err
	}
	t.metadata = meta
	for _, it := range items {
		if err := checkKeys(it); err != nil {
			return err
		}
		doc, err := normalizeDoc(it)
		if err != nil {
			return err
		}
		name, err := itemName(doc)
		if err != nil {
			return err
		}
		if _, dup := t.items[name]; dup {
			return fmt.Errorf("duplicate item %q", name)
		}
		t.items[name] = doc
		t.order = append(t.order, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[uuid]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, uuid)
	}
	m.tasks[uuid] = t
	return nil
}

func (m *Memory) ListTasks(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tasks))
	for uuid := range m.tasks {
		out = append(out, uuid)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) task(uuid string) (*memTask, error) {
	t, ok := m.tasks[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, uuid)
	}
	return t, nil
}

func (m *Memory) Item(_ context.Context, uuid, name string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.task(uuid)
	if err != nil {
		return nil, err
	}
	doc, ok := t.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrItemNotFound, uuid, name)
	}
	return normalizeDoc(doc)
}

func (m *Memory) Items(_ context.Context, uuid string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.task(uuid)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(t.order))
	for _, name := range t.order {
		doc, err := normalizeDoc(t.items[name])
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *Memory) Metadata(_ context.Context, uuid string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.task(uuid)
	if err != nil {
		return nil, err
	}
	return normalizeDoc(t.metadata)
}

func (m *Memory) UpdateItem(_ context.Context, uuid, name string, set, match Document) (Document, error) {
	if err := checkKeys(set, match); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(uuid)
	if err != nil {
		return nil, err
	}
	doc, ok := t.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrItemNotFound, uuid, name)
	}
	if err := apply(doc, set, match); err != nil {
		return nil, err
	}
	return normalizeDoc(doc)
}

func (m *Memory) UpdateMetadata(_ context.Context, uuid string, set, match Document) (Document, error) {
	if err := checkKeys(set, match); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(uuid)
	if err != nil {
		return nil, err
	}
	if err := apply(t.metadata, set, match); err != nil {
		return nil, err
	}
	return normalizeDoc(t.metadata)
}

func (m *Memory) DeleteTask(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.task(uuid); err != nil {
		return err
	}
	delete(m.tasks, uuid)
	return nil
}

func (m *Memory) Close() error { return nil }

// apply writes set into doc when match holds. Caller holds the lock.
func apply(doc, set, match Document) error {
	ok, err := matches(doc, match)
	if err != nil || !ok {
		return err
	}
	for k, v := range set {
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		doc[k] = nv
	}
	return nil
}
