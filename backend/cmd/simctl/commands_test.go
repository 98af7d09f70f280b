package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-simulator/backend/internal/simulator"
)

// simctl runs one invocation against a sqlite file shared by the test
func simctl(t *testing.T, dbPath string, stdin string, args ...string) (string, error) {
	t.Helper()
	rootCmd, a := newRootCmd()
	var out bytes.Buffer
	rootCmd.SetArgs(append([]string{"--backend", "sqlite", "--sqlite-path", dbPath}, args...))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	defer a.close()
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainAndGenerate(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sim.db")

	_, err := simctl(t, db, "", "train", "g1:alice", "hello", "from", "the", "cli")
	require.NoError(t, err)

	out, err := simctl(t, db, "", "generate", "g1:alice", "--seed", "3", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "hello from the cli\nhello from the cli\n", out)
}

func TestTrainFromStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sim.db")

	out, err := simctl(t, db, "first message\n\n   \nsecond message\n", "train", "g1:bob")
	require.NoError(t, err)
	assert.Equal(t, "trained 2 messages into g1:bob\n", out)

	out, err = simctl(t, db, "", "inspect", "g1:bob")
	require.NoError(t, err)
	var snap simulator.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "g1:bob", snap.EntityID)
	assert.Equal(t, 5, snap.NodeCount)
	assert.Empty(t, snap.Problem)
}

func TestEntitiesAndPrune(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sim.db")
	for _, args := range [][]string{
		{"train", "g1:a", "said once"},
		{"train", "g1:b", "said twice"},
		{"train", "g1:b", "said twice"},
		{"train", "g2:c", "elsewhere"},
	} {
		_, err := simctl(t, db, "", args...)
		require.NoError(t, err)
	}

	out, err := simctl(t, db, "", "entities", "--prefix", "g1:")
	require.NoError(t, err)
	assert.Equal(t, "g1:a\ng1:b\n", out)

	out, err = simctl(t, db, "", "prune", "--prefix", "g1:")
	require.NoError(t, err)
	var report simulator.PruneReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.EntitiesProcessed)
	assert.Equal(t, 1, report.EntitiesRemoved)

	out, err = simctl(t, db, "", "prune", "g2:c")
	require.NoError(t, err)
	var result simulator.EntityPruneResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Removed)

	out, err = simctl(t, db, "", "entities")
	require.NoError(t, err)
	assert.Equal(t, "g1:b\n", out)
}

func TestGenerateUnknownEntity(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sim.db")
	_, err := simctl(t, db, "", "generate", "g1:nobody")
	assert.Error(t, err)
}

func TestArgumentValidation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sim.db")
	_, err := simctl(t, db, "", "inspect")
	assert.Error(t, err)
	_, err = simctl(t, db, "", "entities", "extra")
	assert.Error(t, err)
}
