package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-simulator/backend/internal/constants"
	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/markov"
	"discord-simulator/backend/internal/simulator"
	apperrors "discord-simulator/backend/pkg/errors"
)

const (
	testGuild   = "guild1"
	testChannel = "chan1"
	testBot     = "bot"
	testPrefix  = "-sim-"
)

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

// fakeSession records what the bot sends
type fakeSession struct {
	mu       sync.Mutex
	sent     []sentMessage
	typing   int
	members  []*discordgo.Member // ascending by user id
	channels map[string]*discordgo.Channel
	sendErr  error
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ChannelID: channelID, Content: data.Content}, nil
}

func (f *fakeSession) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return ch, nil
}

func (f *fakeSession) GuildMembers(_ string, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page []*discordgo.Member
	for _, m := range f.members {
		if m.User.ID > after && len(page) < limit {
			page = append(page, m)
		}
	}
	return page, nil
}

func (f *fakeSession) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.data.Content)
	}
	return out
}

type fixture struct {
	store   *graph.MemoryStore
	service *simulator.Service
	sim     *Simulator
	handler *Handler
	api     *fakeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := graph.NewMemoryStore()
	service := simulator.NewService(store, nil, nil, nil, simulator.DefaultOptions())
	sim := NewSimulator(service, SimulationConfig{LengthMin: 3, LengthMax: 3}, nil, nil)
	return &fixture{
		store:   store,
		service: service,
		sim:     sim,
		handler: NewHandler(context.Background(), service, store, sim, testPrefix, nil),
		api:     &fakeSession{channels: map[string]*discordgo.Channel{}},
	}
}

func (f *fixture) say(userID, content string) {
	f.handler.handle(context.Background(), f.api, testBot, &discordgo.Message{
		GuildID:   testGuild,
		ChannelID: testChannel,
		Author:    &discordgo.User{ID: userID, Username: "user-" + userID},
		Content:   content,
	})
}

func member(id, username, nick string) *discordgo.Member {
	return &discordgo.Member{Nick: nick, User: &discordgo.User{ID: id, Username: username}}
}

func TestHandlerObservesMessages(t *testing.T) {
	f := newFixture(t)
	f.say("u1", "hello world")
	f.say("u1", "hello there")

	g, err := f.store.Load(context.Background(), simulator.EntityID(testGuild, "u1"))
	require.NoError(t, err)
	n, ok := g.Node(markov.Start)
	require.True(t, ok)
	assert.Equal(t, []markov.Edge{{Target: "hello", Weight: 2}}, n.Edges)
	assert.Empty(t, f.api.contents())
}

func TestHandlerIgnoresBotsAndDirectMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handler.handle(ctx, f.api, testBot, &discordgo.Message{
		GuildID: testGuild, Author: &discordgo.User{ID: "other-bot", Bot: true}, Content: "beep",
	})
	f.handler.handle(ctx, f.api, testBot, &discordgo.Message{
		GuildID: testGuild, Author: &discordgo.User{ID: testBot}, Content: "me",
	})
	f.handler.handle(ctx, f.api, testBot, &discordgo.Message{
		Author: &discordgo.User{ID: "u1"}, Content: "private",
	})

	ids, err := f.service.Entities(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHandleMessageUsesHandlerContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHandler(ctx, f.service, f.store, f.sim, testPrefix, nil)
	message := func(content string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			GuildID: testGuild, ChannelID: testChannel,
			Author:  &discordgo.User{ID: "u1"}, Content: content,
		}}
	}

	h.HandleMessage(&discordgo.Session{}, message("before shutdown"))
	cancel()
	h.HandleMessage(&discordgo.Session{}, message("after shutdown"))

	g, err := f.store.Load(context.Background(), simulator.EntityID(testGuild, "u1"))
	require.NoError(t, err)
	n, ok := g.Node(markov.Start)
	require.True(t, ok)
	assert.Equal(t, []markov.Edge{{Target: "before", Weight: 1}}, n.Edges)
}

func TestHandlerTrainsCommandMessages(t *testing.T) {
	f := newFixture(t)
	f.say("u1", testPrefix+"help")

	g, err := f.store.Load(context.Background(), simulator.EntityID(testGuild, "u1"))
	require.NoError(t, err)
	n, ok := g.Node(markov.Start)
	require.True(t, ok)
	assert.Equal(t, []markov.Edge{{Target: testPrefix + "help", Weight: 1}}, n.Edges)
	assert.Len(t, f.api.contents(), 1, "the command is still answered")
}

func TestStartCommandSimulates(t *testing.T) {
	f := newFixture(t)
	f.say("u1", "hello world")
	f.say("u2", "hello world")
	f.api.members = []*discordgo.Member{
		member("u1", "alice", "Ali"),
		member("u2", "bob", ""),
		member("u3", "carol", "NoGraph"),
		{User: &discordgo.User{ID: "u4", Username: "robot", Bot: true}},
	}

	f.say("u1", testPrefix+"start")

	sent := f.api.contents()
	require.Len(t, sent, 3)
	assert.Equal(t, 3, f.api.typing)
	for _, msg := range sent {
		assert.Contains(t, []string{"Ali:\n    hello world", "Ali:\n    -sim-start", "bob:\n    hello world"}, msg)
	}
	for _, m := range f.api.sent {
		require.NotNil(t, m.data.AllowedMentions)
		assert.Empty(t, m.data.AllowedMentions.Parse)
		assert.Equal(t, testChannel, m.channelID)
	}
}

func TestStartCommandWithoutMembers(t *testing.T) {
	f := newFixture(t)
	f.say("u1", testPrefix+"start")
	assert.Equal(t, []string{constants.ReplyNoSimulatedMembers}, f.api.contents())

	// Trained but no longer in the guild
	f.say("gone", "bye all")
	f.say("u1", testPrefix+"start")
	assert.Equal(t, []string{constants.ReplyNoSimulatedMembers, constants.ReplyNoSimulatedMembers}, f.api.contents())
}

func TestScheduleCommand(t *testing.T) {
	f := newFixture(t)
	hint := fmt.Sprintf(constants.ReplyScheduleHint, testPrefix)

	f.say("u1", testPrefix+"schedule")
	f.say("u1", testPrefix+"schedule")
	f.say("u1", testPrefix+"schedule stop")
	f.say("u1", testPrefix+"schedule stop")
	f.say("u1", testPrefix+"schedule later")

	assert.Equal(t, []string{
		constants.ReplyScheduled,
		constants.ReplyAlreadyScheduled,
		constants.ReplyScheduleStopped,
		hint,
		hint,
	}, f.api.contents())
	assert.Contains(t, hint, "-sim-schedule stop")

	channels, err := f.store.Channels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestScheduleCommandRegistersChannel(t *testing.T) {
	f := newFixture(t)
	f.say("u1", testPrefix+"schedule")

	channels, err := f.store.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, testChannel, channels[0].ID)
	assert.Equal(t, testGuild, channels[0].GuildID)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.say("u1", testPrefix+"dance")
	f.say("u1", testPrefix)
	assert.Equal(t, []string{constants.ReplyUnknownCommand, constants.ReplyUnknownCommand}, f.api.contents())
}

func TestHelpCommand(t *testing.T) {
	f := newFixture(t)
	f.say("u1", testPrefix+"help")
	sent := f.api.contents()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], constants.BotDescription))
	assert.Contains(t, sent[0], "-sim-start")
}

func TestSimulationStopsOnSendFailure(t *testing.T) {
	f := newFixture(t)
	f.say("u1", "hello world")
	f.api.members = []*discordgo.Member{member("u1", "alice", "")}
	f.api.sendErr = assert.AnError

	sent, err := f.sim.Simulate(context.Background(), f.api, testGuild, testChannel, "command")
	assert.Zero(t, sent)
	var sendErr *apperrors.ErrDiscordMessageSendFailed
	assert.ErrorAs(t, err, &sendErr)
}

func TestSimulationHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	f.say("u1", "hello world")
	f.api.members = []*discordgo.Member{member("u1", "alice", "")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent, err := f.sim.Simulate(ctx, f.api, testGuild, testChannel, "command")
	assert.Zero(t, sent)
	var cancelled *apperrors.ErrContextCancelled
	assert.ErrorAs(t, err, &cancelled)
}

func TestSimulationOnePerChannel(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.sim.claim(testChannel))
	defer f.sim.release(testChannel)

	_, err := f.sim.Simulate(context.Background(), f.api, testGuild, testChannel, "command")
	assert.ErrorIs(t, err, ErrSimulationRunning)
}

func TestSimulationPagesMembers(t *testing.T) {
	f := newFixture(t)
	for i := 0; i <= memberPageSize; i++ {
		f.api.members = append(f.api.members, member(fmt.Sprintf("m%05d", i), fmt.Sprintf("name%d", i), ""))
	}
	last := f.api.members[len(f.api.members)-1]
	f.say(last.User.ID, "at the end")

	members, err := f.sim.members(context.Background(), f.api, testGuild)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, last.User.Username, members[0].name)
}
