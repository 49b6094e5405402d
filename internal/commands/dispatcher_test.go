package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	"puddlebot/internal/tracker"
	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

const owner = 42

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	out  chan sent
	mu   sync.Mutex
	menu []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{out: make(chan sent, 16)} }

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.out <- sent{to: to, text: text}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = cmds
	a.mu.Unlock()
	return nil
}

type fakeUpstream struct {
	healthy bool
	players map[string]*puddle.Player
	top     map[string]*puddle.Leaderboard
}

func (u *fakeUpstream) Health(context.Context) bool { return u.healthy }

func (u *fakeUpstream) Player(_ context.Context, id string) (*puddle.Player, error) {
	if p, ok := u.players[id]; ok {
		return p, nil
	}
	return nil, &puddle.APIResponseError{Endpoint: "/player/" + id, Status: 404}
}

func (u *fakeUpstream) Top(context.Context) (*puddle.Leaderboard, error) { return u.top[""], nil }

func (u *fakeUpstream) TopForCharacter(_ context.Context, c string) (*puddle.Leaderboard, error) {
	if lb, ok := u.top[c]; ok {
		return lb, nil
	}
	return nil, errors.New("no board")
}

type fakeTracker struct{}

func (fakeTracker) State() tracker.CycleState { return tracker.StateIdle }
func (fakeTracker) LastSummary() (tracker.CycleSummary, bool) {
	return tracker.CycleSummary{Players: 1, Succeeded: 1, NewMatches: 2}, true
}

type harness struct {
	t       *testing.T
	adapter *fakeAdapter
	store   storage.Store
	updates chan kit.Update
	polls   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, adapter: newFakeAdapter(), store: storage.NewMemory(), updates: make(chan kit.Update)}
	up := &fakeUpstream{
		healthy: true,
		players: map[string]*puddle.Player{
			"100": {ID: "100", Name: "Profile Name", Ratings: []puddle.Rating{
				{CharShort: "KY", Character: "Ky Kiske", Rating: puddle.FlexInt{Value: 1600, Valid: true}, MatchCount: puddle.FlexInt{Value: 12, Valid: true}},
			}},
		},
		top: map[string]*puddle.Leaderboard{
			"":   {Entries: []puddle.LeaderboardEntry{{Name: "Global One", CharShort: "SO", Rating: puddle.FlexInt{Value: 45000, Valid: true}}}},
			"KY": {Entries: []puddle.LeaderboardEntry{{Name: "Ky One"}}},
		},
	}
	d, err := New(Deps{
		Adapter:  h.adapter,
		Registry: h.store,
		Upstream: up,
		Tracker:  fakeTracker{},
		PollNow: func() bool {
			h.polls++
			return h.polls == 1
		},
		Logger: logx.Nop(),
		Owners: []int64{owner},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) say(from int64, text string) string {
	h.t.Helper()
	h.updates <- kit.Update{Message: &kit.Message{ChatID: 7, FromID: from, Text: text}}
	select {
	case s := <-h.adapter.out:
		assert.Equal(h.t, int64(7), s.to.ChatID)
		return s.text
	case <-time.After(2 * time.Second):
		h.t.Fatalf("no reply to %q", text)
		return ""
	}
}

func TestNonOwnerIsRejected(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "unauthorized", h.say(1, "/players"))
	assert.Contains(t, h.say(1, "/help"), "/track")
}

func TestTrackListUntrack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Contains(t, h.say(owner, "/track"), "usage")
	assert.Contains(t, h.say(owner, "/track 100"), "Profile Name")
	assert.Contains(t, h.say(owner, `/track 100 "Ky Main" ky so`), "KY, SO")

	ps, err := h.store.ListPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Ky Main", ps[0].Name)
	assert.Equal(t, []string{"KY", "SO"}, ps[0].Characters)

	assert.Contains(t, h.say(owner, "/players"), "Ky Main")
	assert.Contains(t, h.say(owner, "/untrack 100"), "stopped tracking")
	assert.Contains(t, h.say(owner, "/untrack 100"), "is not tracked")
}

func TestTrackRejectsUnknownPlayerAndCharacter(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.say(owner, "/track 999"), "not found")
	assert.Contains(t, h.say(owner, "/track 100 name XX"), "unknown character XX")

	ps, err := h.store.ListPlayers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.AddPlayer(ctx, storage.Player{ID: "100", Name: "x"}))
	for _, scope := range []string{"KY", "SO"} {
		require.NoError(t, h.store.PutCursor(ctx, storage.CursorKey{PlayerID: "100", Scope: scope}, storage.Cursor{LastSeen: "a"}))
	}
	assert.Contains(t, h.say(owner, "/reset 100 ky"), "reset 1 cursor")
	assert.Contains(t, h.say(owner, "/reset 100"), "reset 1 cursor")
	assert.Contains(t, h.say(owner, "/reset 100 nope"), "unknown character")
}

func TestLookups(t *testing.T) {
	h := newHarness(t)
	out := h.say(owner, "/top")
	assert.Contains(t, out, "<pre>")
	assert.Contains(t, out, "Global One")
	assert.Contains(t, h.say(owner, "/top ky"), "Ky One")
	assert.Contains(t, h.say(owner, "/stats 100"), "1,600")
	assert.Contains(t, h.say(owner, "/health"), "healthy")
	assert.Contains(t, h.say(owner, "/status"), "idle")
}

func TestPollAndUnknown(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.say(owner, "/poll"), "poll started")
	assert.Contains(t, h.say(owner, "/poll@puddlebot"), "already running")
	assert.Contains(t, h.say(owner, "/nope"), "unknown command")
}

func TestMenuPublished(t *testing.T) {
	h := newHarness(t)
	require.Eventually(t, func() bool {
		h.adapter.mu.Lock()
		defer h.adapter.mu.Unlock()
		return len(h.adapter.menu) > 0
	}, 2*time.Second, 10*time.Millisecond)
	h.adapter.mu.Lock()
	defer h.adapter.mu.Unlock()
	assert.Equal(t, "track", h.adapter.menu[0].Command)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"/track", "1", "Ky Main", "KY"}, tokenize(`/track 1 "Ky Main" KY`))
	assert.Equal(t, []string{"a", `b"c`, ""}, tokenize(`a b\"c ""`))
	assert.Empty(t, tokenize("   "))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{Registry: storage.NewMemory()})
	require.Error(t, err)
	_, err = New(Deps{Adapter: newFakeAdapter()})
	require.Error(t, err)
}
