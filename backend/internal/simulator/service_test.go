package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/markov"
	"discord-simulator/backend/internal/metrics"
	apperrors "discord-simulator/backend/pkg/errors"
)

// faultyStore injects failures in front of a real store
type faultyStore struct {
	graph.Store

	mu         sync.Mutex
	commitErrs map[string][]error // consumed one per Commit call
	alwaysFail map[string]error
	commits    map[string]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:      graph.NewMemoryStore(),
		commitErrs: make(map[string][]error),
		alwaysFail: make(map[string]error),
		commits:    make(map[string]int),
	}
}

func (f *faultyStore) failNextCommits(entityID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitErrs[entityID] = append(f.commitErrs[entityID], errs...)
}

func (f *faultyStore) failCommits(entityID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alwaysFail[entityID] = err
}

func (f *faultyStore) commitCalls(entityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[entityID]
}

func (f *faultyStore) Commit(ctx context.Context, changes markov.ChangeSet) error {
	f.mu.Lock()
	f.commits[changes.EntityID]++
	if err, ok := f.alwaysFail[changes.EntityID]; ok {
		f.mu.Unlock()
		return err
	}
	if errs := f.commitErrs[changes.EntityID]; len(errs) > 0 {
		f.commitErrs[changes.EntityID] = errs[1:]
		f.mu.Unlock()
		return errs[0]
	}
	f.mu.Unlock()
	return f.Store.Commit(ctx, changes)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryBaseDelay = time.Millisecond
	opts.LockWait = time.Second
	return opts
}

func newTestService(t *testing.T) (*Service, *faultyStore, *metrics.Metrics) {
	t.Helper()
	store := newFaultyStore()
	m := metrics.New()
	return NewService(store, nil, m, nil, testOptions()), store, m
}

func observe(t *testing.T, s *Service, entityID string, messages ...string) {
	t.Helper()
	for _, msg := range messages {
		require.NoError(t, s.ObserveMessage(context.Background(), entityID, msg))
	}
}

func loadGraph(t *testing.T, store graph.Store, entityID string) *markov.Graph {
	t.Helper()
	g, err := store.Load(context.Background(), entityID)
	require.NoError(t, err)
	return g
}

func edgeWeight(g *markov.Graph, from, to string) uint64 {
	n, ok := g.Node(from)
	if !ok {
		return 0
	}
	for _, e := range n.Edges {
		if e.Target == to {
			return e.Weight
		}
	}
	return 0
}

func assertCounter(t *testing.T, m *metrics.Metrics, name, help string, value int) {
	t.Helper()
	expected := fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), name))
}

func TestObserveAndGenerate(t *testing.T) {
	s, _, m := newTestService(t)
	observe(t, s, "g:alice", "a b c")

	for seed := uint64(0); seed < 10; seed++ {
		words, err := s.RequestGeneration(context.Background(), "g:alice", &seed)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, words)
	}
	text, err := s.GenerateText(context.Background(), "g:alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "a b c", text)

	assertCounter(t, m, "simulator_messages_trained_total", "Total messages folded into member graphs", 1)
}

func TestObserveIgnoresBlankMessages(t *testing.T) {
	s, store, _ := newTestService(t)
	observe(t, s, "g:alice", "", "   \n\t ")

	_, err := store.Load(context.Background(), "g:alice")
	assert.True(t, apperrors.IsUnknownEntity(err))
	assert.Zero(t, store.commitCalls("g:alice"))
}

func TestTrainTwiceAddsTwo(t *testing.T) {
	s, store, _ := newTestService(t)
	observe(t, s, "g:alice", "the cat sat")
	before := loadGraph(t, store, "g:alice")

	observe(t, s, "g:alice", "the cat sat", "the cat sat")
	after := loadGraph(t, store, "g:alice")

	path := []string{markov.Start, "the", "cat", "sat", markov.End}
	for i := 0; i < len(path)-1; i++ {
		assert.Equal(t, edgeWeight(before, path[i], path[i+1])+2, edgeWeight(after, path[i], path[i+1]))
	}
	require.NoError(t, after.Validate())
}

func TestTrainRejectsInvalidTokens(t *testing.T) {
	s, store, _ := newTestService(t)
	err := s.Train(context.Background(), "g:alice", []string{"two words"})
	assert.ErrorIs(t, err, markov.ErrInvalidToken)
	assert.Zero(t, store.commitCalls("g:alice"))
}

func TestGenerateUnknownEntity(t *testing.T) {
	s, _, m := newTestService(t)
	_, err := s.RequestGeneration(context.Background(), "g:nobody", nil)
	assert.True(t, apperrors.IsUnknownEntity(err))

	expected := `
# HELP simulator_generations_total Total generation requests by outcome
# TYPE simulator_generations_total counter
simulator_generations_total{outcome="unknown_entity"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "simulator_generations_total"))
}

func TestGenerateOverflowIsCorruption(t *testing.T) {
	store := graph.NewMemoryStore()
	opts := testOptions()
	opts.MaxSteps = 5
	s := NewService(store, nil, nil, nil, opts)

	require.NoError(t, s.ObserveMessage(context.Background(), "g:alice", "a b c d e f g h"))
	_, err := s.RequestGeneration(context.Background(), "g:alice", nil)
	var overflow *apperrors.ErrGenerationOverflow
	require.ErrorAs(t, err, &overflow)
	assert.True(t, apperrors.IsCorruption(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestTrainRetriesTransientErrors(t *testing.T) {
	s, store, m := newTestService(t)
	store.failNextCommits("g:alice",
		apperrors.NewStorageTimeout("commit", time.Second, context.DeadlineExceeded),
		apperrors.NewStorageConflict("g:alice", "commit", errors.New("busy")),
	)

	observe(t, s, "g:alice", "hello world")
	assert.Equal(t, 3, store.commitCalls("g:alice"))
	assert.Equal(t, uint64(1), edgeWeight(loadGraph(t, store, "g:alice"), "hello", "world"))

	expected := `
# HELP simulator_storage_retries_total Total retries after transient storage errors
# TYPE simulator_storage_retries_total counter
simulator_storage_retries_total{operation="train"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "simulator_storage_retries_total"))
}

func TestTrainGivesUpAfterBoundedRetries(t *testing.T) {
	s, store, _ := newTestService(t)
	store.failCommits("g:alice", apperrors.NewStorageConflict("g:alice", "commit", errors.New("busy")))

	err := s.ObserveMessage(context.Background(), "g:alice", "hello")
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, testOptions().RetryAttempts, store.commitCalls("g:alice"))
}

func TestTrainFailureLeavesCommittedGraph(t *testing.T) {
	s, store, _ := newTestService(t)
	observe(t, s, "g:alice", "a b")
	before := loadGraph(t, store, "g:alice").Nodes()

	store.failNextCommits("g:alice", apperrors.NewStorageQueryFailed("commit", errors.New("disk full")))
	err := s.ObserveMessage(context.Background(), "g:alice", "a c")
	require.Error(t, err)
	assert.Equal(t, 2, store.commitCalls("g:alice"), "permanent errors are not retried")
	assert.Equal(t, before, loadGraph(t, store, "g:alice").Nodes())
}

func TestConcurrentTrainingOfOneEntity(t *testing.T) {
	s, store, _ := newTestService(t)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.ObserveMessage(context.Background(), "g:alice", "hello world"))
		}()
	}
	wg.Wait()

	g := loadGraph(t, store, "g:alice")
	assert.Equal(t, uint64(40), edgeWeight(g, markov.Start, "hello"), "no update is lost")
	require.NoError(t, g.Validate())
}

func TestConcurrentTrainingOnSQLiteFile(t *testing.T) {
	ctx := context.Background()
	store, err := graph.OpenSQLite(ctx, t.TempDir()+"/sim.db", graph.Options{})
	require.NoError(t, err)
	defer store.Close()
	s := NewService(store, nil, metrics.New(), nil, testOptions())

	const members, messages = 16, 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []error
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(entityID string) {
			defer wg.Done()
			for j := 0; j < messages; j++ {
				if err := s.ObserveMessage(ctx, entityID, fmt.Sprintf("%d says hi", j)); err != nil {
					mu.Lock()
					failed = append(failed, err)
					mu.Unlock()
				}
			}
		}(EntityID("g", fmt.Sprint(i)))
	}
	wg.Wait()
	require.Empty(t, failed)

	for i := 0; i < members; i++ {
		g := loadGraph(t, store, EntityID("g", fmt.Sprint(i)))
		start, ok := g.Node(markov.Start)
		require.True(t, ok)
		assert.Equal(t, uint64(messages), start.Total)
	}
}

func TestGenerateDuringTraining(t *testing.T) {
	s, _, _ := newTestService(t)
	observe(t, s, "g:alice", "seed words")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil && i < 200; i++ {
			_ = s.ObserveMessage(ctx, "g:alice", fmt.Sprintf("w%d seed x%d", i%7, i%3))
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := s.RequestGeneration(context.Background(), "g:alice", nil)
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

func TestEntityIDHelpers(t *testing.T) {
	id := EntityID("123", "456")
	assert.Equal(t, "123:456", id)
	guild, user, ok := SplitEntityID(id)
	assert.True(t, ok)
	assert.Equal(t, "123", guild)
	assert.Equal(t, "456", user)
	assert.Equal(t, "123:", GuildPrefix("123"))

	_, _, ok = SplitEntityID("nocolon")
	assert.False(t, ok)
}

func TestInspect(t *testing.T) {
	s, _, _ := newTestService(t)
	observe(t, s, "g:alice", "a b")

	snap, err := s.Inspect(context.Background(), "g:alice")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.NodeCount)
	assert.Equal(t, 3, snap.EdgeCount)
	assert.Empty(t, snap.Problem)

	_, err = s.Inspect(context.Background(), "g:nobody")
	assert.True(t, apperrors.IsUnknownEntity(err))
}
