// Package graph orders string ids by their dependencies. It backs module
// import ordering, binding cycle detection and init levels. Every result
// follows insertion order, so output is the same between runs.
//
// A Graph is built once and then read; it is not safe for concurrent
// mutation.
package graph

import "slices"

type Graph struct {
	ids  []string
	deps map[string][]string
}

func New() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// AddNode adds id with the given dependencies. Adding an id again replaces
// its dependencies and keeps its position.
func (g *Graph) AddNode(id string, deps []string) {
	if _, ok := g.deps[id]; !ok {
		g.ids = append(g.ids, id)
	}
	g.deps[id] = slices.Clone(deps)
}

// AddEdge records that from depends on to.
func (g *Graph) AddEdge(from, to string) {
	deps, ok := g.deps[from]
	if !ok {
		g.ids = append(g.ids, from)
	}
	if !slices.Contains(deps, to) {
		g.deps[from] = append(deps, to)
	}
}

// out returns the dependencies of id that are themselves nodes. Edges to
// unknown ids are reported elsewhere and never take part in ordering.
func (g *Graph) out(id string) []string {
	var known []string
	for _, dep := range g.deps[id] {
		if _, ok := g.deps[dep]; ok {
			known = append(known, dep)
		}
	}
	return known
}
