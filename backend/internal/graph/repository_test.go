package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-simulator/backend/internal/markov"
	apperrors "discord-simulator/backend/pkg/errors"
)

// The Neo4j tests require a running instance.
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables
func newTestNeo4jStore(t *testing.T) *Neo4jStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not reachable: %v", err)
	}
	store := NewNeo4jStore(driver, Options{Timeout: 10 * time.Second})
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntityID(name string) string {
	return "test-" + time.Now().Format("20060102150405.000000") + ":" + name
}

func TestNeo4jStore_CommitAndLoad(t *testing.T) {
	store := newTestNeo4jStore(t)
	ctx := context.Background()
	entityID := testEntityID("alice")
	defer store.Delete(ctx, entityID)

	g := markov.New(entityID)
	for _, m := range []string{"a b c", "a b c", "a x"} {
		require.NoError(t, g.Train(markov.Tokenize(m)))
	}
	require.NoError(t, store.Commit(ctx, g.Changes()))
	g.ResetChanges()

	loaded, err := store.Load(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, g.Nodes(), loaded.Nodes())

	g.Prune(markov.DefaultPrunePolicy())
	require.NoError(t, store.Commit(ctx, g.Changes()))

	loaded, err = store.Load(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, g.Nodes(), loaded.Nodes())
	require.NoError(t, loaded.Validate())
}

func TestNeo4jStore_DeleteAndEntities(t *testing.T) {
	store := newTestNeo4jStore(t)
	ctx := context.Background()
	entityID := testEntityID("bob")
	defer store.Delete(ctx, entityID)

	g := markov.New(entityID)
	require.NoError(t, g.Train(markov.Tokenize("hello")))
	require.NoError(t, store.Commit(ctx, g.Changes()))

	ids, err := store.Entities(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, []string{entityID}, ids)

	require.NoError(t, store.Delete(ctx, entityID))
	_, err = store.Load(ctx, entityID)
	assert.True(t, apperrors.IsUnknownEntity(err))
}

func TestNeo4jStore_Channels(t *testing.T) {
	store := newTestNeo4jStore(t)
	ctx := context.Background()
	channelID := testEntityID("channel")
	defer store.RemoveChannel(ctx, channelID)

	added, err := store.AddChannel(ctx, Channel{ID: channelID, GuildID: "g"})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.AddChannel(ctx, Channel{ID: channelID, GuildID: "g"})
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := store.RemoveChannel(ctx, channelID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := envOr("NEO4J_URI", "bolt://localhost:7687")
	user := envOr("NEO4J_USER", "neo4j")
	password := envOr("NEO4J_PASSWORD", "password")

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(context.Background())
		return nil, err
	}

	return driver, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
