// Package predicate decides whether items and groups are relevant to a task.
// A predicate is a pure test over the task's requirement set. Predicates built
// from expression strings remember their source so catalogs can be written back
// out; native predicates cannot.
package predicate

import (
	"errors"
	"sort"
)

// ErrNotSerializable is returned when a predicate has no source expression.
var ErrNotSerializable = errors.New("predicate has no source expression")

// Requirements is an immutable set of requirement strings.
type Requirements struct {
	set map[string]struct{}
}

// NewRequirements builds a requirement set. Duplicates collapse.
func NewRequirements(reqs ...string) Requirements {
	set := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		set[r] = struct{}{}
	}
	return Requirements{set: set}
}

// Has reports whether r is in the set.
func (r Requirements) Has(req string) bool {
	_, ok := r.set[req]
	return ok
}

// Len returns the number of requirements.
func (r Requirements) Len() int {
	return len(r.set)
}

// List returns the requirements in sorted order.
func (r Requirements) List() []string {
	out := make([]string, 0, len(r.set))
	for k := range r.set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Predicate is a boolean test over a requirement set.
type Predicate interface {
	// Eval reports whether the predicate holds for reqs.
	Eval(reqs Requirements) bool
	// Source returns the expression the predicate was compiled from.
	// The second result is false when there is no such expression.
	Source() (string, bool)
}

// Always is the default predicate. It holds for every requirement set.
type Always struct{}

func (Always) Eval(Requirements) bool { return true }

func (Always) Source() (string, bool) { return "", false }

// Func adapts a native function. It is not serializable.
type Func func(reqs Requirements) bool

func (f Func) Eval(reqs Requirements) bool { return f(reqs) }

func (Func) Source() (string, bool) { return "", false }

// IsDefault reports whether p is nil or Always.
func IsDefault(p Predicate) bool {
	if p == nil {
		return true
	}
	_, ok := p.(Always)
	return ok
}

// Marshal returns the source string for p. Default predicates marshal to the
// empty string; predicates without a source fail with ErrNotSerializable.
func Marshal(p Predicate) (string, error) {
	if IsDefault(p) {
		return "", nil
	}
	src, ok := p.Source()
	if !ok {
		return "", ErrNotSerializable
	}
	return src, nil
}

// Eval evaluates p against reqs, treating nil as Always.
func Eval(p Predicate, reqs Requirements) bool {
	if p == nil {
		return true
	}
	return p.Eval(reqs)
}
