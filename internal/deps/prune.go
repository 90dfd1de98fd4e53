package deps

import (
	"github.com/marcus/makemagic/internal/predicate"
)

// Prune splits arena into the instances relevant to reqs and the rest.
// Kept instances lose their edges to dropped ones; a dependency that is not
// needed takes its prerequisites with it. Dropped instances are stripped of
// their own edges and marked so any later resolution through an arena fails.
//
// Each predicate runs at most once per instance: instances already checked
// by an earlier Prune are kept without re-evaluation.
func Prune(arena *Arena, reqs predicate.Requirements) (kept, dropped *Arena) {
	kept, dropped = NewArena(), NewArena()

	for _, inst := range arena.Instances() {
		switch {
		case inst.pruned:
			dropped.Add(inst)
		case inst.checked || inst.template == nil:
			inst.checked = true
			kept.Add(inst)
		case inst.template.Predicate().Eval(reqs):
			inst.checked = true
			kept.Add(inst)
		default:
			inst.checked = true
			dropped.Add(inst)
		}
	}

	for _, inst := range kept.Instances() {
		inst.Depends = keepOnly(inst.Depends, kept)
		inst.Contains = keepOnly(inst.Contains, kept)
	}
	for _, inst := range dropped.Instances() {
		inst.Depends = nil
		inst.Contains = nil
		inst.pruned = true
	}
	return kept, dropped
}

func keepOnly(names []string, kept *Arena) []string {
	if names == nil {
		return nil
	}
	out := names[:0:0]
	for _, name := range names {
		if kept.Has(name) {
			out = append(out, name)
		}
	}
	return out
}
