package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"discord-simulator/backend/internal/markov"
	apperrors "discord-simulator/backend/pkg/errors"
)

// Neo4jStore keeps graphs in Neo4j as
// (:WordNode {entity_id, word, total_count})-[:NEXT {weight}]->(:WordNode)
type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	logger  *zap.Logger
}

// NewNeo4jStore wraps an open driver
func NewNeo4jStore(driver neo4j.DriverWithContext, opts Options) *Neo4jStore {
	opts = opts.withDefaults()
	return &Neo4jStore{
		driver:  driver,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// ConnectNeo4j opens a driver, verifies connectivity and ensures the schema
func ConnectNeo4j(ctx context.Context, uri, user, password string, opts Options) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	s := NewNeo4jStore(driver, opts)

	vctx, cancel := call(ctx, s.timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	s.logger.Info("Neo4j word graph store ready", zap.String("uri", uri))
	return s, nil
}

// Close closes the Neo4j driver connection
func (r *Neo4jStore) Close() error {
	return r.driver.Close(context.Background())
}

func (r *Neo4jStore) fail(op, entityID string, err error) error {
	return storageError(op, entityID, r.timeout, err, neo4j.IsRetryable)
}

// EnsureSchema creates the uniqueness constraints the store relies on
func (r *Neo4jStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT word_node_key IF NOT EXISTS
		 FOR (n:WordNode) REQUIRE (n.entity_id, n.word) IS UNIQUE`,
		`CREATE INDEX word_node_entity IF NOT EXISTS FOR (n:WordNode) ON (n.entity_id)`,
		`CREATE CONSTRAINT sim_channel_id IF NOT EXISTS
		 FOR (c:SimChannel) REQUIRE c.id IS UNIQUE`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return r.fail("ensure schema", "", err)
		}
	}
	return nil
}

// Load implements Store
func (r *Neo4jStore) Load(ctx context.Context, entityID string) (*markov.Graph, error) {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	type snapshot struct {
		nodes []markov.NodeRecord
		edges []markov.EdgeRecord
	}

	// Both reads share one transaction
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (n:WordNode {entity_id: $entityID})
			RETURN n.word AS word, n.total_count AS total_count
		`, map[string]interface{}{"entityID": entityID})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		snap := snapshot{}
		for _, record := range records {
			snap.nodes = append(snap.nodes, markov.NodeRecord{
				Word:  getStringFromRecord(record, "word"),
				Total: toUint64(getInt64FromRecord(record, "total_count")),
			})
		}
		if len(snap.nodes) == 0 {
			return snap, nil
		}

		result, err = tx.Run(ctx, `
			MATCH (s:WordNode {entity_id: $entityID})-[r:NEXT]->(t:WordNode)
			RETURN s.word AS source, t.word AS target, r.weight AS weight
		`, map[string]interface{}{"entityID": entityID})
		if err != nil {
			return nil, err
		}
		records, err = result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			snap.edges = append(snap.edges, markov.EdgeRecord{
				Source: getStringFromRecord(record, "source"),
				Target: getStringFromRecord(record, "target"),
				Weight: toUint64(getInt64FromRecord(record, "weight")),
			})
		}
		return snap, nil
	})
	if err != nil {
		return nil, r.fail("load", entityID, err)
	}

	snap := out.(snapshot)
	if len(snap.nodes) == 0 {
		return nil, apperrors.NewUnknownEntity(entityID)
	}
	return markov.Restore(entityID, snap.nodes, snap.edges)
}

// Commit implements Store
func (r *Neo4jStore) Commit(ctx context.Context, changes markov.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := changeParams(changes)
	steps := []string{
		`UNWIND $upsertNodes AS n
		 MERGE (w:WordNode {entity_id: $entityID, word: n.word})
		 SET w.total_count = n.total_count`,
		`UNWIND $upsertEdges AS e
		 MATCH (s:WordNode {entity_id: $entityID, word: e.source})
		 MATCH (t:WordNode {entity_id: $entityID, word: e.target})
		 MERGE (s)-[r:NEXT]->(t)
		 SET r.weight = e.weight`,
		`UNWIND $deleteEdges AS e
		 MATCH (:WordNode {entity_id: $entityID, word: e.source})-[r:NEXT]->(:WordNode {entity_id: $entityID, word: e.target})
		 DELETE r`,
		`UNWIND $deleteNodes AS word
		 MATCH (n:WordNode {entity_id: $entityID, word: word})
		 DETACH DELETE n`,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, query := range steps {
			result, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return r.fail("commit", changes.EntityID, err)
	}

	r.logger.Debug("Word graph committed",
		zap.String("entity_id", changes.EntityID),
		zap.Int("upserted_nodes", len(changes.UpsertNodes)),
		zap.Int("upserted_edges", len(changes.UpsertEdges)),
		zap.Int("deleted_nodes", len(changes.DeleteNodes)),
		zap.Int("deleted_edges", len(changes.DeleteEdges)),
	)
	return nil
}

func changeParams(changes markov.ChangeSet) map[string]interface{} {
	nodes := make([]map[string]interface{}, 0, len(changes.UpsertNodes))
	for _, n := range changes.UpsertNodes {
		nodes = append(nodes, map[string]interface{}{"word": n.Word, "total_count": toInt64(n.Total)})
	}
	edges := make([]map[string]interface{}, 0, len(changes.UpsertEdges))
	for _, e := range changes.UpsertEdges {
		edges = append(edges, map[string]interface{}{"source": e.Source, "target": e.Target, "weight": toInt64(e.Weight)})
	}
	deleteEdges := make([]map[string]interface{}, 0, len(changes.DeleteEdges))
	for _, k := range changes.DeleteEdges {
		deleteEdges = append(deleteEdges, map[string]interface{}{"source": k.Source, "target": k.Target})
	}
	deleteNodes := changes.DeleteNodes
	if deleteNodes == nil {
		deleteNodes = []string{}
	}
	return map[string]interface{}{
		"entityID":    changes.EntityID,
		"upsertNodes": nodes,
		"upsertEdges": edges,
		"deleteEdges": deleteEdges,
		"deleteNodes": deleteNodes,
	}
}

// Delete implements Store
func (r *Neo4jStore) Delete(ctx context.Context, entityID string) error {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (n:WordNode {entity_id: $entityID})
			DETACH DELETE n
		`, map[string]interface{}{"entityID": entityID})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return r.fail("delete", entityID, err)
	}

	r.logger.Info("Word graph deleted", zap.String("entity_id", entityID))
	return nil
}

// Entities implements Store
func (r *Neo4jStore) Entities(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (n:WordNode {word: $start})
			WHERE n.entity_id STARTS WITH $prefix
			RETURN n.entity_id AS entity_id
			ORDER BY entity_id
		`, map[string]interface{}{"start": markov.Start, "prefix": prefix})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(records))
		for _, record := range records {
			ids = append(ids, getStringFromRecord(record, "entity_id"))
		}
		return ids, nil
	})
	if err != nil {
		return nil, r.fail("entities", "", err)
	}
	return out.([]string), nil
}

// AddChannel implements ChannelRegistry
func (r *Neo4jStore) AddChannel(ctx context.Context, channel Channel) (bool, error) {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if channel.AddedAt.IsZero() {
		channel.AddedAt = time.Now()
	}

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (c:SimChannel {id: $channelID})
			ON CREATE SET c.guild_id = $guildID, c.added_at = datetime($addedAt)
		`, map[string]interface{}{
			"channelID": channel.ID,
			"guildID":   channel.GuildID,
			"addedAt":   channel.AddedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesCreated() > 0, nil
	})
	if err != nil {
		return false, r.fail("add channel", "", err)
	}

	added := out.(bool)
	if added {
		r.logger.Info("Channel registered", zap.String("channel_id", channel.ID), zap.String("guild_id", channel.GuildID))
	}
	return added, nil
}

// RemoveChannel implements ChannelRegistry
func (r *Neo4jStore) RemoveChannel(ctx context.Context, channelID string) (bool, error) {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (c:SimChannel {id: $channelID})
			DELETE c
		`, map[string]interface{}{"channelID": channelID})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesDeleted() > 0, nil
	})
	if err != nil {
		return false, r.fail("remove channel", "", err)
	}
	return out.(bool), nil
}

// Channels implements ChannelRegistry
func (r *Neo4jStore) Channels(ctx context.Context) ([]Channel, error) {
	ctx, cancel := call(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (c:SimChannel)
			RETURN c.id AS id, c.guild_id AS guild_id, c.added_at AS added_at
			ORDER BY id
		`, nil)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		channels := make([]Channel, 0, len(records))
		for _, record := range records {
			channels = append(channels, Channel{
				ID:      getStringFromRecord(record, "id"),
				GuildID: getStringFromRecord(record, "guild_id"),
				AddedAt: getTimeFromRecord(record, "added_at"),
			})
		}
		return channels, nil
	})
	if err != nil {
		return nil, r.fail("channels", "", err)
	}
	return out.([]Channel), nil
}
