// Package catalog holds the static vocabulary tasks are resolved from: item and
// group templates, loaded from definition documents and validated as a closed
// world. A Catalog is immutable; reloading builds a new one.
package catalog

import (
	"github.com/marcus/makemagic/internal/predicate"
)

// SentinelName is the reserved identity of the completion sentinel.
const SentinelName = "TaskComplete"

// Kind distinguishes executable items from organisational groups.
type Kind int

const (
	KindItem Kind = iota
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Template is the immutable definition of an item or group. Edges are
// identity references resolved through the owning Catalog.
type Template struct {
	name        string
	kind        Kind
	description string
	pred        predicate.Predicate
	depends     []string
	contains    []string
	data        map[string]any
}

// Option configures a Template under construction.
type Option func(*Template)

// WithDescription sets the human description.
func WithDescription(desc string) Option {
	return func(t *Template) { t.description = desc }
}

// WithDepends adds dependency references.
func WithDepends(names ...string) Option {
	return func(t *Template) { t.depends = append(t.depends, names...) }
}

// WithPredicate sets the relevance predicate. nil means Always.
func WithPredicate(p predicate.Predicate) Option {
	return func(t *Template) { t.pred = p }
}

// WithData sets default caller metadata copied onto every instance.
func WithData(data map[string]any) Option {
	return func(t *Template) { t.data = copyData(data) }
}

// NewItem returns an item template.
func NewItem(name string, opts ...Option) *Template {
	t := &Template{name: name, kind: KindItem}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewGroup returns a group template containing the named members.
func NewGroup(name string, contains []string, opts ...Option) *Template {
	t := &Template{name: name, kind: KindGroup, contains: append([]string(nil), contains...)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Template) Name() string        { return t.name }
func (t *Template) Kind() Kind          { return t.kind }
func (t *Template) IsGroup() bool       { return t.kind == KindGroup }
func (t *Template) Description() string { return t.description }

// Predicate returns the relevance predicate, never nil.
func (t *Template) Predicate() predicate.Predicate {
	if t.pred == nil {
		return predicate.Always{}
	}
	return t.pred
}

// Depends returns a copy of the declared dependency references.
func (t *Template) Depends() []string {
	return append([]string(nil), t.depends...)
}

// Contains returns a copy of the group membership references.
func (t *Template) Contains() []string {
	return append([]string(nil), t.contains...)
}

// Data returns a copy of the default instance metadata.
func (t *Template) Data() map[string]any {
	return copyData(t.data)
}

func (t *Template) String() string {
	return t.name + "(" + t.kind.String() + ")"
}

func copyData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
