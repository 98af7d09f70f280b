package graph

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"discord-simulator/backend/internal/markov"
	apperrors "discord-simulator/backend/pkg/errors"
)

// MemoryStore keeps graphs in process memory. It backs tests and local
// development where durability does not matter.
type MemoryStore struct {
	mu       sync.RWMutex
	graphs   map[string]*memoryGraph
	channels map[string]Channel
}

type memoryGraph struct {
	nodes map[string]uint64
	edges map[markov.EdgeKey]uint64
}

func (m *memoryGraph) clone() *memoryGraph {
	return &memoryGraph{nodes: maps.Clone(m.nodes), edges: maps.Clone(m.edges)}
}

// NewMemoryStore creates an empty in-memory backend
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs:   make(map[string]*memoryGraph),
		channels: make(map[string]Channel),
	}
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context, entityID string) (*markov.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("load", entityID, 0, err, nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[entityID]
	if !ok {
		return nil, apperrors.NewUnknownEntity(entityID)
	}
	nodes := make([]markov.NodeRecord, 0, len(g.nodes))
	for word, total := range g.nodes {
		nodes = append(nodes, markov.NodeRecord{Word: word, Total: total})
	}
	edges := make([]markov.EdgeRecord, 0, len(g.edges))
	for k, weight := range g.edges {
		edges = append(edges, markov.EdgeRecord{Source: k.Source, Target: k.Target, Weight: weight})
	}
	return markov.Restore(entityID, nodes, edges)
}

// Commit implements Store
func (s *MemoryStore) Commit(ctx context.Context, changes markov.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return storageError("commit", changes.EntityID, 0, err, nil)
	}
	if changes.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Apply to a copy and swap it in so a half-applied set is never visible
	var g *memoryGraph
	if current, ok := s.graphs[changes.EntityID]; ok {
		g = current.clone()
	} else {
		g = &memoryGraph{nodes: make(map[string]uint64), edges: make(map[markov.EdgeKey]uint64)}
	}
	for _, n := range changes.UpsertNodes {
		g.nodes[n.Word] = n.Total
	}
	for _, e := range changes.UpsertEdges {
		g.edges[markov.EdgeKey{Source: e.Source, Target: e.Target}] = e.Weight
	}
	for _, k := range changes.DeleteEdges {
		delete(g.edges, k)
	}
	for _, word := range changes.DeleteNodes {
		delete(g.nodes, word)
	}

	if len(g.nodes) == 0 {
		delete(s.graphs, changes.EntityID)
		return nil
	}
	s.graphs[changes.EntityID] = g
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return storageError("delete", entityID, 0, err, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.graphs, entityID)
	return nil
}

// Entities implements Store
func (s *MemoryStore) Entities(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("entities", "", 0, err, nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, g := range s.graphs {
		if _, ok := g.nodes[markov.Start]; ok && strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// AddChannel implements ChannelRegistry
func (s *MemoryStore) AddChannel(ctx context.Context, channel Channel) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageError("add channel", "", 0, err, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel.ID]; ok {
		return false, nil
	}
	s.channels[channel.ID] = channel
	return true, nil
}

// RemoveChannel implements ChannelRegistry
func (s *MemoryStore) RemoveChannel(ctx context.Context, channelID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageError("remove channel", "", 0, err, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return false, nil
	}
	delete(s.channels, channelID)
	return true, nil
}

// Channels implements ChannelRegistry
func (s *MemoryStore) Channels(ctx context.Context) ([]Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("channels", "", 0, err, nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.channels))
	slices.SortFunc(out, func(a, b Channel) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
