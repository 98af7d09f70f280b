package scheduler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-simulator/backend/internal/discord"
	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/simulator"
)

// fakeSession knows a fixed set of channels
type fakeSession struct {
	discord.Session
	channels map[string]*discordgo.Channel
	failing  map[string]error
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if err, ok := f.failing[channelID]; ok {
		return nil, err
	}
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

type simCall struct {
	guildID   string
	channelID string
	trigger   string
}

type fakeSimulations struct {
	mu    sync.Mutex
	calls []simCall
}

func (f *fakeSimulations) Simulate(_ context.Context, _ discord.Session, guildID, channelID, trigger string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, simCall{guildID: guildID, channelID: channelID, trigger: trigger})
	return 1, nil
}

func (f *fakeSimulations) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.channelID)
	}
	return out
}

type fakePruner struct {
	mu       sync.Mutex
	prefixes []string
	err      error
}

func (f *fakePruner) PruneAll(_ context.Context, prefix string) (simulator.PruneReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return simulator.PruneReport{SweepID: "sweep"}, f.err
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prefixes)
}

func addChannels(t *testing.T, store *graph.MemoryStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := store.AddChannel(context.Background(), graph.Channel{ID: id, GuildID: "g-" + id})
		require.NoError(t, err)
	}
}

func TestSimulateScheduled(t *testing.T) {
	store := graph.NewMemoryStore()
	addChannels(t, store, "visible", "deleted", "flaky")
	api := &fakeSession{
		channels: map[string]*discordgo.Channel{"visible": {ID: "visible", GuildID: "guild"}},
		failing:  map[string]error{"flaky": errors.New("connection reset")},
	}
	sims := &fakeSimulations{}
	s := New(api, store, sims, &fakePruner{}, Config{}, nil)

	s.SimulateScheduled(context.Background())

	require.Len(t, sims.calls, 1)
	assert.Equal(t, simCall{guildID: "guild", channelID: "visible", trigger: "schedule"}, sims.calls[0])

	channels, err := store.Channels(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{"flaky", "visible"}, ids, "only the missing channel is unregistered")
}

func TestSimulateScheduledFallsBackToStoredGuild(t *testing.T) {
	store := graph.NewMemoryStore()
	addChannels(t, store, "c1")
	api := &fakeSession{channels: map[string]*discordgo.Channel{"c1": {ID: "c1"}}}
	sims := &fakeSimulations{}

	New(api, store, sims, &fakePruner{}, Config{}, nil).SimulateScheduled(context.Background())
	require.Len(t, sims.calls, 1)
	assert.Equal(t, "g-c1", sims.calls[0].guildID)
}

func TestPrune(t *testing.T) {
	pruner := &fakePruner{}
	s := New(&fakeSession{}, graph.NewMemoryStore(), &fakeSimulations{}, pruner, Config{}, nil)

	report, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sweep", report.SweepID)
	assert.Equal(t, []string{""}, pruner.prefixes)

	pruner.err = errors.New("boom")
	_, err = s.Prune(context.Background())
	assert.Error(t, err)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	store := graph.NewMemoryStore()
	addChannels(t, store, "c1")
	api := &fakeSession{channels: map[string]*discordgo.Channel{"c1": {ID: "c1", GuildID: "guild"}}}
	sims := &fakeSimulations{}
	pruner := &fakePruner{}
	s := New(api, store, sims, pruner, Config{ScheduleInterval: 5 * time.Millisecond, PruneInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(sims.channels()) >= 2 && pruner.calls() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunStartsWithoutWaitingForATick(t *testing.T) {
	store := graph.NewMemoryStore()
	addChannels(t, store, "c1")
	api := &fakeSession{channels: map[string]*discordgo.Channel{"c1": {ID: "c1", GuildID: "guild"}}}
	sims := &fakeSimulations{}
	pruner := &fakePruner{}
	s := New(api, store, sims, pruner, Config{ScheduleInterval: time.Hour, PruneInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(sims.channels()) == 1 && pruner.calls() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"c1"}, sims.channels())
	assert.Equal(t, 1, pruner.calls())
}

func TestRunWithNothingEnabled(t *testing.T) {
	s := New(&fakeSession{}, graph.NewMemoryStore(), &fakeSimulations{}, &fakePruner{}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestIsGone(t *testing.T) {
	assert.True(t, isGone(&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}))
	assert.False(t, isGone(&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}))
	assert.False(t, isGone(errors.New("timeout")))
}
