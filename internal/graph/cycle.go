package graph

import "slices"

// Cycles reports each strongly connected component that contains a cycle,
// self-loops included. A component is given as a closed walk that starts
// and ends at its earliest inserted member and names every member, e.g.
// [A B C A]. Components are listed in the order of those first members.
func (g *Graph) Cycles() [][]string {
	component, sizes := g.components()

	members := make([][]string, len(sizes))
	for _, id := range g.ids {
		c := component[id]
		members[c] = append(members[c], id)
	}

	var cycles [][]string
	for _, id := range g.ids {
		c := component[id]
		if members[c] == nil || members[c][0] != id {
			continue
		}
		if sizes[c] == 1 && !slices.Contains(g.deps[id], id) {
			continue
		}
		cycles = append(cycles, g.closedWalk(members[c], func(other string) bool {
			return component[other] == c
		}))
	}
	return cycles
}

// components labels strongly connected components with two passes:
// finishing order over dependency edges, then collection over the
// reversed edges in reverse finishing order.
func (g *Graph) components() (map[string]int, []int) {
	seen := make(map[string]bool, len(g.ids))
	finished := make([]string, 0, len(g.ids))

	var walk func(id string)
	walk = func(id string) {
		seen[id] = true
		for _, dep := range g.out(id) {
			if !seen[dep] {
				walk(dep)
			}
		}
		finished = append(finished, id)
	}
	for _, id := range g.ids {
		if !seen[id] {
			walk(id)
		}
	}

	reversed := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		for _, dep := range g.out(id) {
			reversed[dep] = append(reversed[dep], id)
		}
	}

	component := make(map[string]int, len(g.ids))
	var sizes []int

	var collect func(id string, c int)
	collect = func(id string, c int) {
		component[id] = c
		sizes[c]++
		for _, from := range reversed[id] {
			if _, ok := component[from]; !ok {
				collect(from, c)
			}
		}
	}
	for i := len(finished) - 1; i >= 0; i-- {
		if _, ok := component[finished[i]]; !ok {
			sizes = append(sizes, 0)
			collect(finished[i], len(sizes)-1)
		}
	}
	return component, sizes
}

// closedWalk visits every id of members, starting and ending at the
// first one, moving only through member ids.
func (g *Graph) closedWalk(members []string, member func(string) bool) []string {
	start := members[0]
	walk := []string{start}
	covered := map[string]bool{start: true}

	at := start
	for _, id := range members[1:] {
		if covered[id] {
			continue
		}
		for _, step := range g.hop(at, id, member) {
			covered[step] = true
			walk = append(walk, step)
		}
		at = id
	}
	return append(walk, g.hop(at, start, member)...)
}

// hop returns the shortest walk from one id to another inside member,
// without the starting id. from and to may be the same id.
func (g *Graph) hop(from, to string, member func(string) bool) []string {
	prev := map[string]string{}
	queue := []string{from}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, dep := range g.out(id) {
			if !member(dep) {
				continue
			}
			if dep == to {
				walk := []string{to}
				for at := id; at != from; at = prev[at] {
					walk = append(walk, at)
				}
				slices.Reverse(walk)
				return walk
			}
			if _, visited := prev[dep]; visited || dep == from {
				continue
			}
			prev[dep] = id
			queue = append(queue, dep)
		}
	}
	return []string{to}
}
