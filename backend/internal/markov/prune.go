package markov

import "fmt"

// PrunePolicy decides which transitions are too rare to keep. An edge is
// eligible when its weight is at most MaxWeight and its destination's total
// equals that weight, i.e. the destination carries no traffic beyond this
// single branch.
type PrunePolicy struct {
	MaxWeight uint64
}

// DefaultPrunePolicy drops transitions observed exactly once
func DefaultPrunePolicy() PrunePolicy {
	return PrunePolicy{MaxWeight: 1}
}

// PruneResult summarises one prune pass
type PruneResult struct {
	EdgesRemoved int  `json:"edges_removed"`
	NodesRemoved int  `json:"nodes_removed"`
	Emptied      bool `json:"emptied"`
}

// RemoveNode deletes word and repairs every parent pointing at it. Parents
// left without edges are removed in turn, as are nodes left with no path to
// END or no path from START. It returns true when START itself lost its last edge,
// in which case the caller owns deleting the whole graph.
func (g *Graph) RemoveNode(word string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if word == Start || word == End {
		return false, fmt.Errorf("%w: %q", ErrProtectedNode, word)
	}
	if _, ok := g.nodes[word]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownNode, word)
	}

	if g.cascadeLocked(word) {
		return true, nil
	}
	return g.repairLocked(), nil
}

// Prune removes eligible edges and their destinations until none remain.
// It stops early when START is emptied.
func (g *Graph) Prune(policy PrunePolicy) PruneResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodesBefore, edgesBefore := len(g.nodes), g.edgeCountLocked()
	result := PruneResult{}

	for {
		candidates := g.eligibleLocked(policy)
		if len(candidates) == 0 {
			break
		}
		for _, c := range candidates {
			// Earlier removals in this round may have changed the picture
			if !g.stillEligibleLocked(c, policy) {
				continue
			}
			// Repairing the destination's parents drops c itself along with
			// every other edge into it.
			if g.cascadeLocked(c.Target) {
				result.Emptied = true
				break
			}
		}
		if result.Emptied || g.repairLocked() {
			result.Emptied = true
			break
		}
	}

	result.NodesRemoved = nodesBefore - len(g.nodes)
	result.EdgesRemoved = edgesBefore - g.edgeCountLocked()
	return result
}

func (g *Graph) eligibleLocked(policy PrunePolicy) []EdgeKey {
	var out []EdgeKey
	for _, w := range g.sortedWordsLocked() {
		for _, e := range g.nodes[w].edges {
			if g.isEligibleLocked(e, policy) {
				out = append(out, EdgeKey{Source: w, Target: e.Target})
			}
		}
	}
	return out
}

func (g *Graph) stillEligibleLocked(k EdgeKey, policy PrunePolicy) bool {
	src, ok := g.nodes[k.Source]
	if !ok {
		return false
	}
	i, ok := src.find(k.Target)
	if !ok {
		return false
	}
	return g.isEligibleLocked(src.edges[i], policy)
}

func (g *Graph) isEligibleLocked(e Edge, policy PrunePolicy) bool {
	if e.Weight > policy.MaxWeight || e.Target == Start || e.Target == End {
		return false
	}
	dst, ok := g.nodes[e.Target]
	return ok && dst.total == e.Weight
}

// cascadeLocked deletes word, then every parent that ends up edge-less.
// START is never deleted; the return value reports that it was emptied.
func (g *Graph) cascadeLocked(word string) bool {
	startEmptied := false
	queue := []string{word}

	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		if _, ok := g.nodes[w]; !ok {
			continue
		}

		parents := sortedKeys(g.parents[w])
		g.deleteNodeLocked(w)

		for _, src := range parents {
			p, ok := g.nodes[src]
			if !ok {
				continue
			}
			weight, ok := p.remove(w)
			if !ok {
				continue
			}
			p.total -= weight
			g.journal.touchNode(src)
			g.journal.touchEdge(src, w)

			if len(p.edges) == 0 {
				if src == Start {
					startEmptied = true
				} else {
					queue = append(queue, src)
				}
			}
		}
	}
	return startEmptied
}

// deleteNodeLocked removes w and its outgoing edges. Incoming edges are the
// caller's concern.
func (g *Graph) deleteNodeLocked(w string) {
	n := g.nodes[w]
	for _, e := range n.edges {
		if set, ok := g.parents[e.Target]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(g.parents, e.Target)
			}
		}
		g.journal.touchEdge(w, e.Target)
	}
	delete(g.nodes, w)
	delete(g.parents, w)
	g.journal.touchNode(w)
}

// repairLocked restores reachability after removals: nodes that can no
// longer reach END are cascaded away, then nodes START cannot reach are
// dropped. It reports whether START was emptied or cut off from END.
func (g *Graph) repairLocked() bool {
	for {
		finishes := g.reachesEndLocked()
		var doomed []string
		for _, w := range g.sortedWordsLocked() {
			if _, ok := finishes[w]; ok {
				continue
			}
			if w == Start {
				return true
			}
			doomed = append(doomed, w)
		}
		if len(doomed) == 0 {
			break
		}
		for _, w := range doomed {
			if g.cascadeLocked(w) {
				return true
			}
		}
	}
	g.dropUnreachableLocked()
	return false
}

// dropUnreachableLocked deletes every node START cannot reach
func (g *Graph) dropUnreachableLocked() {
	if _, ok := g.nodes[Start]; !ok {
		return
	}
	seen := g.reachableLocked()
	for _, w := range g.sortedWordsLocked() {
		if _, ok := seen[w]; !ok {
			g.deleteNodeLocked(w)
		}
	}
}

func (g *Graph) reachableLocked() map[string]struct{} {
	seen := map[string]struct{}{Start: {}}
	stack := []string{Start}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.nodes[w].edges {
			if _, ok := seen[e.Target]; ok {
				continue
			}
			if _, ok := g.nodes[e.Target]; !ok {
				continue
			}
			seen[e.Target] = struct{}{}
			stack = append(stack, e.Target)
		}
	}
	return seen
}
