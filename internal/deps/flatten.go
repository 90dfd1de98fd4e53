package deps

import (
	"sort"
	"strings"
)

// Flatten removes groups from arena. Every item inherits the dependencies of
// each group that contains it, directly or through nested groups, and every
// edge onto a group becomes edges onto that group's expanded item contents.
// Only edges change; the returned arena holds exactly the input's items.
// Flattening a group-free arena leaves it unchanged.
func Flatten(arena *Arena) (*Arena, error) {
	// 1. Partition.
	items := make(map[string]*Instance)
	groups := make(map[string]*Instance)
	for _, inst := range arena.Instances() {
		if inst.pruned {
			continue
		}
		if inst.IsGroup() {
			groups[inst.Name] = inst
		} else {
			items[inst.Name] = inst
		}
	}
	live := len(items) + len(groups)
	for name := range items {
		if _, ok := groups[name]; ok {
			return nil, reducef(ErrInvariant, "%q is both item and group", name)
		}
	}
	itemNames := sortedNames(items)
	groupNames := sortedNames(groups)

	// 2. Expanded membership.
	expanded := make(map[string]map[string]struct{}, len(groups))
	for _, name := range groupNames {
		members, err := expandMembership(name, groups)
		if err != nil {
			return nil, err
		}
		expanded[name] = members
	}

	// 3. Member -> containing groups.
	containedBy := make(map[string][]string)
	for _, g := range groupNames {
		for member := range expanded[g] {
			containedBy[member] = append(containedBy[member], g)
		}
	}

	// 4. Group dependencies shotgun onto every member.
	for _, name := range itemNames {
		item := items[name]
		deps := toSet(item.Depends)
		for _, g := range containedBy[name] {
			for _, dep := range groups[g].Depends {
				deps[dep] = struct{}{}
			}
		}
		item.Depends = setToSorted(deps)
	}

	// 5. Edges onto groups become edges onto their contents.
	for _, name := range itemNames {
		item := items[name]
		deps := toSet(item.Depends)
		for dep := range deps {
			if _, isGroup := groups[dep]; !isGroup {
				continue
			}
			delete(deps, dep)
			for member := range expanded[dep] {
				deps[member] = struct{}{}
			}
		}
		item.Depends = setToSorted(deps)
	}

	// 6. Postconditions.
	if len(items)+len(groups) != live {
		return nil, reducef(ErrInvariant, "node count changed from %d to %d", live, len(items)+len(groups))
	}
	out := NewArena()
	for _, name := range itemNames {
		item := items[name]
		for _, dep := range item.Depends {
			if _, isGroup := groups[dep]; isGroup {
				return nil, reducef(ErrInvariant, "group %q survived in the dependencies of %q", dep, name)
			}
			if _, ok := items[dep]; !ok {
				return nil, reducef(ErrDanglingEdge, "%q depends on %q which is not in the task", name, dep)
			}
		}
		item.Contains = nil
		out.Add(item)
	}
	if out.Len() != len(itemNames) {
		return nil, reducef(ErrInvariant, "item set changed during flattening")
	}
	return out, nil
}

// expandMembership replaces nested groups in name's contents with their own
// contents until only items remain. A group reachable from its own contents
// is a membership cycle.
func expandMembership(name string, groups map[string]*Instance) (map[string]struct{}, error) {
	members := make(map[string]struct{})
	absorbed := map[string]bool{name: true}
	pending := toSet(groups[name].Contains)
	via := make(map[string]string)
	for m := range pending {
		via[m] = name
	}

	for len(pending) > 0 {
		for _, m := range setToSorted(pending) {
			delete(pending, m)
			g, isGroup := groups[m]
			if !isGroup {
				members[m] = struct{}{}
				continue
			}
			if m == name {
				return nil, reducef(ErrMembershipCycle, "%s", membershipPath(name, via[m], via))
			}
			if absorbed[m] {
				continue
			}
			absorbed[m] = true
			for _, c := range g.Contains {
				if _, seen := via[c]; !seen {
					via[c] = m
				}
				pending[c] = struct{}{}
			}
		}
	}
	return members, nil
}

// membershipPath renders the containment chain that leads from root back to
// itself, using the first-seen parent of each group.
func membershipPath(root, last string, via map[string]string) string {
	path := []string{root, last}
	for cur := last; cur != root; {
		parent, ok := via[cur]
		if !ok || len(path) > len(via)+2 {
			break
		}
		path = append(path, parent)
		cur = parent
	}
	// path is root, last, ..., root walking upward; reverse it to read as
	// "root contains ... contains root".
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return strings.Join(path, " contains ")
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func setToSorted(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedNames(m map[string]*Instance) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
