package catalog

import (
	"fmt"

	"github.com/marcus/makemagic/internal/digraph"
	"github.com/marcus/makemagic/internal/predicate"
)

// LintIssue is a problem that does not stop a catalog from loading but will
// make task creation fail or behave surprisingly.
type LintIssue struct {
	Name    string
	Problem string
}

func (i LintIssue) String() string {
	if i.Name == "" {
		return i.Problem
	}
	return fmt.Sprintf("%s: %s", i.Name, i.Problem)
}

// Lint checks predicates against the empty requirement set and looks for
// cycles in the declared dependency and membership relations.
func (c *Catalog) Lint() []LintIssue {
	var issues []LintIssue

	for _, t := range c.Templates() {
		if problem := checkPredicate(t.Predicate()); problem != "" {
			issues = append(issues, LintIssue{Name: t.name, Problem: problem})
		}
	}

	depends := make(map[string][]string, len(c.order))
	membership := make(map[string][]string)
	for _, t := range c.Templates() {
		depends[t.name] = t.Depends()
		if t.IsGroup() {
			membership[t.name] = t.Contains()
		}
	}

	if g, err := digraph.FromNodes(depends); err == nil {
		if err := g.Validate(); err != nil {
			issues = append(issues, LintIssue{Problem: err.Error()})
		}
	}

	// Only group-to-group membership can cycle.
	groupsOnly := make(map[string][]string, len(membership))
	for group, members := range membership {
		for _, m := range members {
			if _, isGroup := membership[m]; isGroup {
				groupsOnly[group] = append(groupsOnly[group], m)
			}
		}
		if _, ok := groupsOnly[group]; !ok {
			groupsOnly[group] = nil
		}
	}
	if g, err := digraph.FromNodes(groupsOnly); err == nil {
		if err := g.Validate(); err != nil {
			issues = append(issues, LintIssue{Problem: "group membership: " + err.Error()})
		}
	}

	return issues
}

func checkPredicate(p predicate.Predicate) (problem string) {
	defer func() {
		if r := recover(); r != nil {
			problem = fmt.Sprintf("predicate panics on empty requirements: %v", r)
		}
	}()
	p.Eval(predicate.NewRequirements())
	return ""
}
