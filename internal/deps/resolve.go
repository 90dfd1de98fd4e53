package deps

import (
	"errors"
	"fmt"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/digraph"
	"github.com/marcus/makemagic/internal/predicate"
)

// Resolution is the group-free item graph of one task, sentinel included.
type Resolution struct {
	Requirements predicate.Requirements
	Items        *Arena
	Goals        []string
	Order        []string
	Dropped      []string
	graph        *digraph.Graph
}

// Sentinel returns the completion sentinel instance.
func (r *Resolution) Sentinel() *Instance {
	inst, _ := r.Items.Get(catalog.SentinelName)
	return inst
}

// Graph returns the dependency digraph of the resolved items.
func (r *Resolution) Graph() *digraph.Graph {
	return r.graph
}

// Resolve builds the item graph for reqs. With no roots the whole catalog is
// considered; otherwise only what roots reach. The pipeline is instantiate,
// prune, flatten, validate acyclic, then attach the sentinel to the goal
// items of the final graph. The result depends only on the inputs.
func Resolve(cat *catalog.Catalog, reqs predicate.Requirements, roots ...string) (*Resolution, error) {
	arena, err := Instantiate(cat, roots...)
	if err != nil {
		return nil, err
	}

	kept, dropped := Prune(arena, reqs)

	items, err := Flatten(kept)
	if err != nil {
		return nil, err
	}

	g, err := items.Graph()
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	goals := g.GoalNodes()
	sentinel, err := NewSentinel(goals)
	if err != nil {
		return nil, err
	}
	items.Add(sentinel)
	for _, goal := range goals {
		g.AddEdge(sentinel.Name, goal)
	}

	order, err := g.IterateDependencies(sentinel.Name)
	if err != nil {
		return nil, err
	}
	if len(order) != items.Len() {
		return nil, reducef(ErrInvariant, "sentinel reaches %d of %d items", len(order), items.Len())
	}

	return &Resolution{
		Requirements: reqs,
		Items:        items,
		Goals:        goals,
		Order:        order,
		Dropped:      dropped.Names(),
		graph:        g,
	}, nil
}

// IsStructural reports whether err is a graph construction failure rather
// than a bad input.
func IsStructural(err error) bool {
	return errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrDanglingEdge) ||
		errors.Is(err, ErrMembershipCycle) ||
		errors.Is(err, ErrInvariant)
}

// Describe renders the resolution as one line per item in dependency order.
func (r *Resolution) Describe() []string {
	lines := make([]string, 0, len(r.Order))
	for _, name := range r.Order {
		inst, _ := r.Items.Get(name)
		lines = append(lines, fmt.Sprintf("%s <- %v", name, inst.Depends))
	}
	return lines
}
