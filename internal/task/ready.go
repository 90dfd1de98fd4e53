package task

import (
	"github.com/marcus/makemagic/internal/digraph"
)

// Ready is the result of a ready-to-run query.
type Ready struct {
	// Items are INCOMPLETE items whose dependencies are all COMPLETE, in
	// dependency order. The sentinel is never listed.
	Items []Item
	// SentinelReady means every goal is COMPLETE but the sentinel is not
	// yet marked; the task is waiting to be completed.
	SentinelReady bool
	// Finished means the sentinel is already COMPLETE.
	Finished bool
}

// ReadyToRun computes the items that can start now. It does not change any
// state; settling a ready sentinel is the caller's job.
func ReadyToRun(items []Item) (Ready, error) {
	byName := make(map[string]Item, len(items))
	nodes := make(map[string][]string, len(items))
	for _, it := range items {
		byName[it.Name] = it
		nodes[it.Name] = it.Depends
	}

	g, err := digraph.FromNodes(nodes)
	if err != nil {
		return Ready{}, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return Ready{}, err
	}

	var ready Ready
	for _, name := range order {
		it := byName[name]
		if it.IsSentinel() && it.State == Complete {
			ready.Finished = true
		}
		if it.State != Incomplete || !dependenciesComplete(it, byName) {
			continue
		}
		if it.IsSentinel() {
			ready.SentinelReady = true
			continue
		}
		ready.Items = append(ready.Items, it)
	}
	return ready, nil
}

func dependenciesComplete(it Item, byName map[string]Item) bool {
	for _, dep := range it.Depends {
		if byName[dep].State != Complete {
			return false
		}
	}
	return true
}
