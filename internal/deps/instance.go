// Package deps turns a catalog into the item graph of one task: it instantiates
// the templates, prunes them against the task's requirements, flattens groups
// into plain item edges, and adds the completion sentinel.
//
// Instances live in an Arena keyed by identity. Every edge is a name resolved
// through the arena, so shared dependencies are the same instance.
package deps

import (
	"sort"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/digraph"
)

// Instance is the mutable per-task copy of a template.
type Instance struct {
	Name        string
	Kind        catalog.Kind
	Description string
	Depends     []string
	Contains    []string
	Data        map[string]any

	template *catalog.Template
	checked  bool
	pruned   bool
}

func newInstance(t *catalog.Template) *Instance {
	return &Instance{
		Name:        t.Name(),
		Kind:        t.Kind(),
		Description: t.Description(),
		Depends:     t.Depends(),
		Contains:    t.Contains(),
		Data:        t.Data(),
		template:    t,
	}
}

// NewSentinel returns the completion sentinel depending on goals.
func NewSentinel(goals []string) (*Instance, error) {
	if len(goals) == 0 {
		return nil, ErrNoGoals
	}
	deps := append([]string(nil), goals...)
	sort.Strings(deps)
	return &Instance{
		Name:        catalog.SentinelName,
		Kind:        catalog.KindItem,
		Description: "all goal items are complete",
		Depends:     deps,
		checked:     true,
	}, nil
}

// Template returns the template the instance was made from. The sentinel
// has none.
func (i *Instance) Template() *catalog.Template { return i.template }

func (i *Instance) IsGroup() bool { return i.Kind == catalog.KindGroup }

// IsSentinel reports whether i is the completion sentinel.
func (i *Instance) IsSentinel() bool { return i.template == nil && i.Name == catalog.SentinelName }

// Pruned reports whether the predicate filter dropped i.
func (i *Instance) Pruned() bool { return i.pruned }

// Arena maps identities to instances.
type Arena struct {
	byName map[string]*Instance
}

// NewArena returns an arena holding instances.
func NewArena(instances ...*Instance) *Arena {
	a := &Arena{byName: make(map[string]*Instance, len(instances))}
	for _, inst := range instances {
		a.Add(inst)
	}
	return a
}

// Add stores inst, replacing any instance with the same name.
func (a *Arena) Add(inst *Instance) {
	a.byName[inst.Name] = inst
}

// Get returns the instance named name.
func (a *Arena) Get(name string) (*Instance, bool) {
	inst, ok := a.byName[name]
	return inst, ok
}

// Has reports whether name is in the arena.
func (a *Arena) Has(name string) bool {
	_, ok := a.byName[name]
	return ok
}

// Resolve returns the live instance named name. Missing or pruned
// instances are dangling references.
func (a *Arena) Resolve(name string) (*Instance, error) {
	inst, ok := a.byName[name]
	if !ok {
		return nil, reducef(ErrDanglingEdge, "%q is not in the task", name)
	}
	if inst.pruned {
		return nil, reducef(ErrDanglingEdge, "%q was pruned", name)
	}
	return inst, nil
}

// Len returns the number of instances.
func (a *Arena) Len() int { return len(a.byName) }

// Names returns every identity, sorted.
func (a *Arena) Names() []string {
	out := make([]string, 0, len(a.byName))
	for name := range a.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Instances returns every instance ordered by name.
func (a *Arena) Instances() []*Instance {
	out := make([]*Instance, 0, len(a.byName))
	for _, name := range a.Names() {
		out = append(out, a.byName[name])
	}
	return out
}

// Graph builds the dependency digraph of the arena. References outside the
// arena are dangling edges.
func (a *Arena) Graph() (*digraph.Graph, error) {
	return digraph.FromRoots(a.Names(), func(name string) ([]string, bool) {
		inst, ok := a.byName[name]
		if !ok {
			return nil, false
		}
		return inst.Depends, true
	})
}
