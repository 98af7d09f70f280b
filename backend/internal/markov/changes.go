package markov

import (
	"slices"
	"strings"
)

// NodeRecord is the persisted form of a node
type NodeRecord struct {
	Word  string `json:"word"`
	Total uint64 `json:"total_count"`
}

// EdgeRecord is the persisted form of an edge
type EdgeRecord struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight uint64 `json:"weight"`
}

// EdgeKey identifies an edge within one entity's graph
type EdgeKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ChangeSet is everything a store must write to bring its copy of a graph
// in line with the in-memory one. Upserts carry absolute values.
type ChangeSet struct {
	EntityID    string
	UpsertNodes []NodeRecord
	UpsertEdges []EdgeRecord
	DeleteNodes []string
	DeleteEdges []EdgeKey
}

// Empty reports whether the change set writes nothing
func (c ChangeSet) Empty() bool {
	return len(c.UpsertNodes) == 0 && len(c.UpsertEdges) == 0 &&
		len(c.DeleteNodes) == 0 && len(c.DeleteEdges) == 0
}

type journal struct {
	nodes map[string]struct{}
	edges map[EdgeKey]struct{}
}

func newJournal() journal {
	return journal{
		nodes: make(map[string]struct{}),
		edges: make(map[EdgeKey]struct{}),
	}
}

func (j journal) touchNode(word string) {
	j.nodes[word] = struct{}{}
}

func (j journal) touchEdge(source, target string) {
	j.edges[EdgeKey{Source: source, Target: target}] = struct{}{}
}

// Changes resolves every node and edge touched since the last reset against
// the current state.
func (g *Graph) Changes() ChangeSet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cs := ChangeSet{EntityID: g.entityID}
	for _, word := range sortedKeys(g.journal.nodes) {
		if n, ok := g.nodes[word]; ok {
			cs.UpsertNodes = append(cs.UpsertNodes, NodeRecord{Word: word, Total: n.total})
		} else {
			cs.DeleteNodes = append(cs.DeleteNodes, word)
		}
	}

	keys := make([]EdgeKey, 0, len(g.journal.edges))
	for k := range g.journal.edges {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b EdgeKey) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return strings.Compare(a.Target, b.Target)
	})
	for _, k := range keys {
		if weight, ok := g.edgeWeightLocked(k.Source, k.Target); ok {
			cs.UpsertEdges = append(cs.UpsertEdges, EdgeRecord{Source: k.Source, Target: k.Target, Weight: weight})
		} else {
			cs.DeleteEdges = append(cs.DeleteEdges, k)
		}
	}
	return cs
}

// ResetChanges clears the change journal, normally after a successful commit
func (g *Graph) ResetChanges() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.journal = newJournal()
}

// Records returns the full graph in persisted form
func (g *Graph) Records() ([]NodeRecord, []EdgeRecord) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]NodeRecord, 0, len(g.nodes))
	var edges []EdgeRecord
	for _, w := range g.sortedWordsLocked() {
		n := g.nodes[w]
		nodes = append(nodes, NodeRecord{Word: w, Total: n.total})
		for _, e := range n.edges {
			edges = append(edges, EdgeRecord{Source: w, Target: e.Target, Weight: e.Weight})
		}
	}
	return nodes, edges
}

func (g *Graph) edgeWeightLocked(source, target string) (uint64, bool) {
	n, ok := g.nodes[source]
	if !ok {
		return 0, false
	}
	i, ok := n.find(target)
	if !ok {
		return 0, false
	}
	return n.edges[i].Weight, true
}
