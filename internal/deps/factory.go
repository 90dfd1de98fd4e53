package deps

import (
	"github.com/marcus/makemagic/internal/catalog"
)

// Instantiate creates one instance per template reachable from roots through
// dependency and membership edges. With no roots every template in the
// catalog is instantiated. Discovery tolerates cycles; they surface when the
// execution graph is validated.
func Instantiate(cat *catalog.Catalog, roots ...string) (*Arena, error) {
	if len(roots) == 0 {
		roots = cat.Names()
	}
	for _, name := range roots {
		if _, ok := cat.Lookup(name); !ok {
			return nil, reducef(ErrUnknownTemplate, "%q", name)
		}
	}

	arena := NewArena()
	for _, name := range cat.Closure(roots...) {
		t, _ := cat.Lookup(name)
		arena.Add(newInstance(t))
	}
	return arena, nil
}
