package markov

import (
	"fmt"

	apperrors "discord-simulator/backend/pkg/errors"
)

// Validate checks every structural invariant of a trained graph and returns
// an ErrGraphCorrupt describing the first violation found.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	corrupt := func(format string, args ...any) error {
		return apperrors.NewGraphCorrupt(g.entityID, fmt.Sprintf(format, args...))
	}

	if _, ok := g.nodes[Start]; !ok {
		return corrupt("missing start node")
	}
	end, ok := g.nodes[End]
	if !ok {
		return corrupt("missing end node")
	}
	if len(end.edges) != 0 || end.total != 0 {
		return corrupt("end node has outgoing transitions")
	}

	for _, w := range g.sortedWordsLocked() {
		n := g.nodes[w]
		if w != End && len(n.edges) == 0 {
			return corrupt("node %q has no outgoing transitions", w)
		}
		var sum uint64
		for _, e := range n.edges {
			if e.Target == Start {
				return corrupt("node %q transitions into the start node", w)
			}
			if e.Weight == 0 {
				return corrupt("edge %q -> %q has zero weight", w, e.Target)
			}
			if _, ok := g.nodes[e.Target]; !ok {
				return corrupt("edge %q -> %q points at a missing node", w, e.Target)
			}
			sum += e.Weight
		}
		if sum != n.total {
			return corrupt("node %q total %d does not match edge weights %d", w, n.total, sum)
		}
	}

	reachable := g.reachableLocked()
	for _, w := range g.sortedWordsLocked() {
		if _, ok := reachable[w]; !ok {
			return corrupt("node %q is not reachable from the start node", w)
		}
	}

	finishes := g.reachesEndLocked()
	for _, w := range g.sortedWordsLocked() {
		if _, ok := finishes[w]; !ok {
			return corrupt("node %q has no path to the end node", w)
		}
	}
	return nil
}

// reachesEndLocked walks parent links back from END
func (g *Graph) reachesEndLocked() map[string]struct{} {
	seen := map[string]struct{}{End: {}}
	stack := []string{End}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for src := range g.parents[w] {
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			stack = append(stack, src)
		}
	}
	return seen
}
