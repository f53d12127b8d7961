package graph

import "errors"

var ErrCycleDetected = errors.New("graph: cycle detected")

// Levels groups nodes so that every dependency of a node sits in an
// earlier group. Nodes of one group share no edges.
func (g *Graph) Levels() ([][]string, error) {
	pending := make(map[string]int, len(g.ids))
	dependents := make(map[string][]string)
	for _, id := range g.ids {
		deps := g.out(id)
		pending[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var levels [][]string
	placed := make(map[string]bool, len(g.ids))
	for len(placed) < len(g.ids) {
		var level []string
		for _, id := range g.ids {
			if !placed[id] && pending[id] == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			return nil, ErrCycleDetected
		}

		for _, id := range level {
			placed[id] = true
			for _, d := range dependents[id] {
				pending[d]--
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// TopologicalSort lists nodes after their dependencies: level by level,
// insertion order within a level.
func (g *Graph) TopologicalSort() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}

	sorted := make([]string, 0, len(g.ids))
	for _, level := range levels {
		sorted = append(sorted, level...)
	}
	return sorted, nil
}
