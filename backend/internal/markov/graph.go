// Package markov holds the per-entity word transition graph: training,
// weighted generation and pruning.
package markov

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	apperrors "discord-simulator/backend/pkg/errors"
)

// Sentinel words marking message boundaries. Tokens come from whitespace
// splitting and so never contain a space; both sentinels do.
const (
	Start = "<message start>"
	End   = "<message end>"
)

var (
	// ErrUnknownNode is returned when an operation names a word the graph does not hold
	ErrUnknownNode = errors.New("markov: unknown node")
	// ErrProtectedNode is returned when a sentinel is the target of a removal
	ErrProtectedNode = errors.New("markov: sentinel nodes cannot be removed")
	// ErrInvalidTransition is returned for transitions out of END or into START
	ErrInvalidTransition = errors.New("markov: invalid transition")
	// ErrInvalidToken is returned for empty tokens or tokens containing whitespace
	ErrInvalidToken = errors.New("markov: invalid token")
)

// Edge is one outgoing transition of a node
type Edge struct {
	Target string `json:"target"`
	Weight uint64 `json:"weight"`
}

// Node is a read-only view of a graph node
type Node struct {
	Word  string `json:"word"`
	Total uint64 `json:"total_count"`
	Edges []Edge `json:"edges"`
}

// Graph is the transition graph of one entity. It is safe for concurrent
// use: mutations take the write lock, walks hold the read lock for their
// whole duration.
type Graph struct {
	mu       sync.RWMutex
	entityID string
	nodes    map[string]*node
	parents  map[string]map[string]struct{} // target -> sources
	journal  journal
}

type node struct {
	word  string
	total uint64
	edges []Edge // ascending by Target
}

func (n *node) find(target string) (int, bool) {
	return slices.BinarySearchFunc(n.edges, target, func(e Edge, t string) int {
		return strings.Compare(e.Target, t)
	})
}

func (n *node) increment(target string) {
	i, ok := n.find(target)
	if ok {
		n.edges[i].Weight++
		return
	}
	n.edges = slices.Insert(n.edges, i, Edge{Target: target, Weight: 1})
}

// remove drops the edge to target and returns its weight
func (n *node) remove(target string) (uint64, bool) {
	i, ok := n.find(target)
	if !ok {
		return 0, false
	}
	weight := n.edges[i].Weight
	n.edges = slices.Delete(n.edges, i, i+1)
	return weight, true
}

func (n *node) view() Node {
	return Node{Word: n.word, Total: n.total, Edges: slices.Clone(n.edges)}
}

func newGraph(entityID string) *Graph {
	return &Graph{
		entityID: entityID,
		nodes:    make(map[string]*node),
		parents:  make(map[string]map[string]struct{}),
		journal:  newJournal(),
	}
}

// New creates an empty graph for entityID seeded with the START node
func New(entityID string) *Graph {
	g := newGraph(entityID)
	g.ensureNodeLocked(Start)
	return g
}

// Restore rebuilds a graph from stored records. The result has an empty
// change journal.
func Restore(entityID string, nodes []NodeRecord, edges []EdgeRecord) (*Graph, error) {
	g := newGraph(entityID)
	for _, rec := range nodes {
		g.nodes[rec.Word] = &node{word: rec.Word, total: rec.Total}
	}
	for _, rec := range edges {
		src, ok := g.nodes[rec.Source]
		if !ok {
			return nil, apperrors.NewGraphCorrupt(entityID, fmt.Sprintf("edge from missing node %q", rec.Source))
		}
		if _, ok := g.nodes[rec.Target]; !ok {
			return nil, apperrors.NewGraphCorrupt(entityID, fmt.Sprintf("edge to missing node %q", rec.Target))
		}
		src.edges = append(src.edges, Edge{Target: rec.Target, Weight: rec.Weight})
		g.addParent(rec.Target, rec.Source)
	}
	for _, n := range g.nodes {
		slices.SortFunc(n.edges, func(a, b Edge) int { return strings.Compare(a.Target, b.Target) })
	}
	if _, ok := g.nodes[Start]; !ok {
		return nil, apperrors.NewGraphCorrupt(entityID, "missing start node")
	}
	return g, nil
}

// EntityID returns the owner of the graph
func (g *Graph) EntityID() string {
	return g.entityID
}

// GetOrCreateNode returns the node id for word, creating the node with a
// zero total if needed.
func (g *Graph) GetOrCreateNode(word string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureNodeLocked(word)
	return word
}

// RecordTransition increments the edge from -> toWord, creating the target
// node and edge as needed.
func (g *Graph) RecordTransition(from, toWord string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recordLocked(from, toWord)
}

func (g *Graph) recordLocked(from, toWord string) error {
	if from == End || toWord == Start {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, toWord)
	}
	src, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	g.ensureNodeLocked(toWord)

	src.increment(toWord)
	src.total++
	g.addParent(toWord, from)

	g.journal.touchNode(from)
	g.journal.touchEdge(from, toWord)
	return nil
}

func (g *Graph) ensureNodeLocked(word string) *node {
	if n, ok := g.nodes[word]; ok {
		return n
	}
	n := &node{word: word}
	g.nodes[word] = n
	g.journal.touchNode(word)
	return n
}

func (g *Graph) addParent(target, source string) {
	set, ok := g.parents[target]
	if !ok {
		set = make(map[string]struct{})
		g.parents[target] = set
	}
	set[source] = struct{}{}
}

// Node returns a copy of the node for word
func (g *Graph) Node(word string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[word]
	if !ok {
		return Node{}, false
	}
	return n.view(), true
}

// Nodes returns copies of every node ordered by word
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, w := range g.sortedWordsLocked() {
		out = append(out, g.nodes[w].view())
	}
	return out
}

// Len returns the number of nodes, sentinels included
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeCountLocked()
}

func (g *Graph) edgeCountLocked() int {
	count := 0
	for _, n := range g.nodes {
		count += len(n.edges)
	}
	return count
}

// Clone returns a deep copy with an empty change journal
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := newGraph(g.entityID)
	for w, n := range g.nodes {
		c.nodes[w] = &node{word: n.word, total: n.total, edges: slices.Clone(n.edges)}
	}
	for target, set := range g.parents {
		for source := range set {
			c.addParent(target, source)
		}
	}
	return c
}

func (g *Graph) sortedWordsLocked() []string {
	words := make([]string, 0, len(g.nodes))
	for w := range g.nodes {
		words = append(words, w)
	}
	slices.Sort(words)
	return words
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
