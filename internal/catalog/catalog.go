package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDefinition is wrapped by every load-time definition failure.
var ErrDefinition = errors.New("invalid item definitions")

// DefinitionError lists every problem found in a definition set.
type DefinitionError struct {
	Problems []string
}

func (e *DefinitionError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", ErrDefinition, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems:\n  %s", ErrDefinition, len(e.Problems), strings.Join(e.Problems, "\n  "))
}

func (e *DefinitionError) Unwrap() error { return ErrDefinition }

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &DefinitionError{Problems: p}
}

// Catalog is a validated, closed-world set of templates.
type Catalog struct {
	byName map[string]*Template
	order  []string
}

// New validates templates and returns a Catalog. Every reference must name a
// template in the set, names must be unique, groups must contain something,
// and the sentinel identity is reserved.
func New(templates ...*Template) (*Catalog, error) {
	var probs problems
	c := &Catalog{byName: make(map[string]*Template, len(templates))}

	for _, t := range templates {
		if t == nil {
			probs.addf("nil template")
			continue
		}
		switch {
		case t.name == "":
			probs.addf("%s with empty name", t.kind)
			continue
		case t.name == SentinelName:
			probs.addf("%q is reserved for the completion sentinel", SentinelName)
			continue
		}
		if _, dup := c.byName[t.name]; dup {
			probs.addf("duplicate identity %q", t.name)
			continue
		}
		if t.IsGroup() && len(t.contains) == 0 {
			probs.addf("group %q contains nothing", t.name)
		}
		if !t.IsGroup() && len(t.contains) > 0 {
			probs.addf("item %q cannot contain members", t.name)
		}
		for key := range t.data {
			if IsReservedKey(key) || key == "state" {
				probs.addf("%q: data key %q is reserved", t.name, key)
			}
		}
		c.byName[t.name] = t
		c.order = append(c.order, t.name)
	}

	for _, name := range c.order {
		t := c.byName[name]
		for _, dep := range t.depends {
			if _, ok := c.byName[dep]; !ok {
				probs.addf("%q depends on undefined %q", name, dep)
			}
		}
		for _, member := range t.contains {
			if _, ok := c.byName[member]; !ok {
				probs.addf("group %q contains undefined %q", name, member)
			}
		}
	}

	if err := probs.err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the template with the given identity.
func (c *Catalog) Lookup(name string) (*Template, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Templates returns the templates in definition order.
func (c *Catalog) Templates() []*Template {
	out := make([]*Template, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Names returns every identity in sorted order.
func (c *Catalog) Names() []string {
	out := append([]string(nil), c.order...)
	sort.Strings(out)
	return out
}

// Items returns the names of item templates, sorted.
func (c *Catalog) Items() []string {
	return c.namesOf(KindItem)
}

// Groups returns the names of group templates, sorted.
func (c *Catalog) Groups() []string {
	return c.namesOf(KindGroup)
}

func (c *Catalog) namesOf(kind Kind) []string {
	var out []string
	for _, name := range c.order {
		if c.byName[name].kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Closure returns the names reachable from roots through dependency and
// membership edges, roots included, sorted. Unknown roots are ignored.
func (c *Catalog) Closure(roots ...string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, ok := c.byName[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		stack = append(stack, t.depends...)
		stack = append(stack, t.contains...)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
