package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-simulator/backend/internal/lock"
	"discord-simulator/backend/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_BACKEND", config.BackendMemory)
	cfg := config.FromEnv()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceManagerInProcess(t *testing.T) {
	cfg := testConfig(t)
	sm, err := NewServiceManager(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer sm.Close()

	assert.IsType(t, &lock.LocalLocker{}, sm.Locker)
	require.NoError(t, sm.Simulator.ObserveMessage(context.Background(), "g:u", "hello world"))
	text, err := sm.Simulator.GenerateText(context.Background(), "g:u", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestServiceManagerWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	sm, err := NewServiceManager(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.IsType(t, &lock.RedisLocker{}, sm.Locker)
	require.NoError(t, sm.Simulator.ObserveMessage(context.Background(), "g:u", "hello"))
	assert.Empty(t, mr.Keys(), "lock released after training")

	require.NoError(t, sm.Close())
	require.NoError(t, sm.Close(), "closing twice is a no-op")
}

func TestServiceManagerRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()
	mr.Close()

	_, err := NewServiceManager(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestServiceManagerSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "sim.db")

	sm, err := NewServiceManager(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Simulator.ObserveMessage(context.Background(), "g:u", "persist me"))
	require.NoError(t, sm.Close())

	reopened, err := NewServiceManager(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	ids, err := reopened.Simulator.Entities(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"g:u"}, ids)
}
