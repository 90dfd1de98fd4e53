// Package digraph builds dependency digraphs over named nodes and answers the
// structural questions the engine needs: a dependency-respecting order, the
// goal nodes of a set, and whether the relation is acyclic.
//
// An edge (From, To) means From depends on To. All accessors return names in
// sorted order so results are deterministic.
package digraph

import (
	"fmt"
	"io"
	"sort"
)

// Edge is a dependency edge: From depends on To.
type Edge struct {
	From string
	To   string
}

// Graph is an edge-list digraph. It is not safe for concurrent mutation.
type Graph struct {
	nodes map[string]struct{}
	out   map[string]map[string]struct{}
	in    map[string]map[string]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string]map[string]struct{}),
		in:    make(map[string]map[string]struct{}),
	}
}

// AddNode adds a node. Adding an existing node does nothing.
func (g *Graph) AddNode(name string) {
	g.nodes[name] = struct{}{}
}

// AddEdge records that from depends on to, adding both nodes.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if g.out[from] == nil {
		g.out[from] = make(map[string]struct{})
	}
	if g.in[to] == nil {
		g.in[to] = make(map[string]struct{})
	}
	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
}

// FromNodes builds a graph from a closed node set mapping each node to its
// dependencies. A dependency outside the set is a dangling edge.
func FromNodes(deps map[string][]string) (*Graph, error) {
	g := New()
	for name := range deps {
		g.AddNode(name)
	}
	for _, name := range sortedKeys(deps) {
		for _, dep := range deps[name] {
			if _, ok := deps[dep]; !ok {
				return nil, danglingf("%q depends on unknown %q", name, dep)
			}
			g.AddEdge(name, dep)
		}
	}
	return g, nil
}

// FromRoots discovers the graph reachable from roots with a worklist,
// following depsOf transitively. depsOf reports false for unknown nodes.
func FromRoots(roots []string, depsOf func(name string) ([]string, bool)) (*Graph, error) {
	g := New()
	visited := make(map[string]bool)
	work := append([]string(nil), roots...)

	for len(work) > 0 {
		name := work[0]
		work = work[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		deps, ok := depsOf(name)
		if !ok {
			return nil, unknownf("%q", name)
		}
		g.AddNode(name)
		for _, dep := range deps {
			if _, known := depsOf(dep); !known {
				return nil, danglingf("%q depends on unknown %q", name, dep)
			}
			g.AddEdge(name, dep)
			work = append(work, dep)
		}
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Nodes returns every node.
func (g *Graph) Nodes() []string {
	return sortedSet(g.nodes)
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return sortedSet(g.out[name])
}

// Dependents returns the nodes that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return sortedSet(g.in[name])
}

// Edges returns every edge ordered by From then To.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.Nodes() {
		for _, to := range g.Dependencies(from) {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// IterateDependencies returns root and everything it transitively depends on,
// each node once, every node after all of its dependencies.
func (g *Graph) IterateDependencies(root string) ([]string, error) {
	if !g.Has(root) {
		return nil, unknownf("%q", root)
	}
	t := newTraversal(g)
	if err := t.visit(root); err != nil {
		return nil, err
	}
	return t.order, nil
}

// TopologicalOrder returns every node, dependencies first.
func (g *Graph) TopologicalOrder() ([]string, error) {
	t := newTraversal(g)
	for _, name := range g.Nodes() {
		if err := t.visit(name); err != nil {
			return nil, err
		}
	}
	return t.order, nil
}

// Validate fails with ErrCycle if the dependency relation is not acyclic.
func (g *Graph) Validate() error {
	_, err := g.TopologicalOrder()
	return err
}

// GoalNodes returns the members of set that no other member of set depends
// on. Members without any edges are goals too. An empty set means all nodes.
func (g *Graph) GoalNodes(set ...string) []string {
	if len(set) == 0 {
		set = g.Nodes()
	}
	members := make(map[string]struct{}, len(set))
	for _, name := range set {
		members[name] = struct{}{}
	}

	var goals []string
	for _, name := range sortedSet(members) {
		depended := false
		for dependent := range g.in[name] {
			if _, ok := members[dependent]; ok && dependent != name {
				depended = true
				break
			}
		}
		if !depended {
			goals = append(goals, name)
		}
	}
	return goals
}

// WriteDot writes the graph in Graphviz dot format.
func (g *Graph) WriteDot(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph depgraph {"); err != nil {
		return err
	}
	for _, name := range g.Nodes() {
		if _, err := fmt.Fprintf(w, "\t%q;\n", name); err != nil {
			return err
		}
	}
	for _, e := range g.Edges() {
		if _, err := fmt.Fprintf(w, "\t%q -> %q;\n", e.From, e.To); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

// traversal is a depth-first walk that distinguishes nodes still open on the
// current path from nodes already emitted.
type traversal struct {
	g     *Graph
	open  map[string]bool
	done  map[string]bool
	path  []string
	order []string
}

func newTraversal(g *Graph) *traversal {
	return &traversal{
		g:    g,
		open: make(map[string]bool),
		done: make(map[string]bool),
	}
}

func (t *traversal) visit(name string) error {
	if t.done[name] {
		return nil
	}
	if t.open[name] {
		return cycleError(t.cyclePath(name))
	}

	t.open[name] = true
	t.path = append(t.path, name)
	for _, dep := range t.g.Dependencies(name) {
		if err := t.visit(dep); err != nil {
			return err
		}
	}
	t.path = t.path[:len(t.path)-1]
	delete(t.open, name)

	t.done[name] = true
	t.order = append(t.order, name)
	return nil
}

func (t *traversal) cyclePath(name string) []string {
	for i, n := range t.path {
		if n == name {
			cycle := append([]string(nil), t.path[i:]...)
			return append(cycle, name)
		}
	}
	return []string{name, name}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
