package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puddlebot/internal/eventbus"
	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	logx "puddlebot/pkg/logx"
)

type fakeFetcher struct {
	mu        sync.Mutex
	histories map[string][]puddle.Match // "<id>/<char>"
	errs      map[string]error
	profiles  map[string]*puddle.Player
	block     chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
	calls       atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{histories: map[string][]puddle.Match{}, errs: map[string]error{}, profiles: map[string]*puddle.Player{}}
}

func (f *fakeFetcher) set(id, char string, ms ...puddle.Match) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[id+"/"+char] = ms
}

func (f *fakeFetcher) fail(id, char string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id+"/"+char] = err
}

func (f *fakeFetcher) Player(_ context.Context, id string) (*puddle.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, &puddle.APIResponseError{Status: 404}
}

func (f *fakeFetcher) PlayerHistory(ctx context.Context, id, char string) (*puddle.History, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id+"/"+char]; err != nil {
		return nil, err
	}
	return &puddle.History{Matches: f.histories[id+"/"+char]}, nil
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	batches [][]NewMatch
	err     error
	hook    func()
}

func (a *fakeAnnouncer) Announce(_ context.Context, batch []NewMatch) error {
	if a.hook != nil {
		a.hook()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.batches = append(a.batches, batch)
	return nil
}

func (a *fakeAnnouncer) matchIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, b := range a.batches {
		for _, m := range b {
			out = append(out, m.MatchID)
		}
	}
	return out
}

type failingSource struct{ err error }

func (s failingSource) ListPlayers(context.Context) ([]storage.Player, error) { return nil, s.err }

type harness struct {
	t     *testing.T
	fetch *fakeFetcher
	store storage.Store
	ann   *fakeAnnouncer
	bus   eventbus.Bus
	tr    *Tracker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, fetch: newFakeFetcher(), store: storage.NewMemory(), ann: &fakeAnnouncer{}, bus: eventbus.New()}
	tr, err := New(cfg, Deps{Fetcher: h.fetch, Store: h.store, Players: h.store, Announcer: h.ann, Bus: h.bus, Logger: logx.Nop()})
	require.NoError(t, err)
	h.tr = tr
	return h
}

func (h *harness) addPlayer(id string, chars ...string) {
	h.t.Helper()
	require.NoError(h.t, h.store.AddPlayer(context.Background(), storage.Player{ID: id, Name: "P" + id, Characters: chars}))
}

func (h *harness) cursor(id, scope string) (storage.Cursor, bool) {
	h.t.Helper()
	c, ok, err := h.store.GetCursor(context.Background(), storage.CursorKey{PlayerID: id, Scope: scope})
	require.NoError(h.t, err)
	return c, ok
}

func TestFirstPollIsBaseline(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.set("1", "SO", mk("t2", "a"), mk("t1", "b"))

	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.NewMatches)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Empty(t, h.ann.matchIDs())

	c, ok := h.cursor("1", "SO")
	require.True(t, ok)
	assert.Equal(t, "t2_a", c.LastSeen)
	assert.Equal(t, StateIdle, h.tr.State())
}

func TestNewMatchesAnnouncedOldestFirstThenNotRepeated(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.set("1", "SO", mk("t1", "a"))
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	events, unsub := h.bus.Subscribe(16, EventMatchNew)
	defer unsub()

	h.fetch.set("1", "SO", mk("t3", "c"), mk("t2", "b"), mk("t1", "a"))
	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NewMatches)
	assert.Equal(t, []string{"t2_b", "t3_c"}, h.ann.matchIDs())
	require.Len(t, h.ann.batches, 1)
	assert.Equal(t, "SO", h.ann.batches[0][0].Scope)
	assert.Equal(t, "P1", h.ann.batches[0][0].Player.Name)

	for range 2 {
		select {
		case ev := <-events:
			assert.IsType(t, MatchEvent{}, ev.Data)
		case <-time.After(time.Second):
			t.Fatal("missing match event")
		}
	}

	sum, err = h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.NewMatches)
	assert.Len(t, h.ann.matchIDs(), 2)
}

func TestLateInsertedMatchIsAnnouncedOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.set("1", "SO", mk("t3", "a"), mk("t2", "b"), mk("t1", "c"))
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	// t2.5_x shows up under the newest already-seen record.
	h.fetch.set("1", "SO", mk("t4", "d"), mk("t3", "a"), mk("t2.5", "x"), mk("t2", "b"), mk("t1", "c"))
	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NewMatches)
	assert.Equal(t, []string{"t2.5_x", "t4_d"}, h.ann.matchIDs())

	sum, err = h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.NewMatches)
	assert.Len(t, h.ann.matchIDs(), 2)
}

func TestPlayerFailureIsIsolated(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.addPlayer("2", "KY")
	h.fetch.set("1", "SO", mk("t1", "a"))
	h.fetch.set("2", "KY", mk("t1", "a"))
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	failed, unsub := h.bus.Subscribe(4, EventPlayerFailed)
	defer unsub()

	boom := errors.New("boom")
	h.fetch.fail("1", "SO", boom)
	h.fetch.set("2", "KY", mk("t2", "b"), mk("t1", "a"))
	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Succeeded)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "1", sum.Failed[0].PlayerID)
	assert.Equal(t, "SO", sum.Failed[0].Scope)
	assert.Equal(t, []string{"t2_b"}, h.ann.matchIDs())
	assert.Equal(t, StateDegraded, h.tr.State())

	select {
	case ev := <-failed:
		pe := ev.Data.(PlayerFailedEvent).Err
		assert.ErrorIs(t, pe, boom)
		assert.Equal(t, "P1", pe.PlayerName)
	case <-time.After(time.Second):
		t.Fatal("missing player.failed event")
	}

	c, _ := h.cursor("1", "SO")
	assert.Equal(t, "t1_a", c.LastSeen, "failed scope keeps its cursor")

	// Recovery clears the degraded state.
	h.fetch.fail("1", "SO", nil)
	_, err = h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, h.tr.State())
}

func TestRejectedBatchKeepsCursor(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.set("1", "SO", mk("t1", "a"))
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	h.fetch.set("1", "SO", mk("t2", "b"), mk("t1", "a"))
	h.ann.err = errors.New("queue full")
	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Failed, 1)
	c, _ := h.cursor("1", "SO")
	assert.Equal(t, "t1_a", c.LastSeen)

	h.ann.err = nil
	sum, err = h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewMatches)
	assert.Equal(t, []string{"t2_b"}, h.ann.matchIDs())
}

func TestAcceptedBatchPersistsDespiteCancellation(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.set("1", "SO", mk("t1", "a"))
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ann.hook = cancel
	h.fetch.set("1", "SO", mk("t2", "b"), mk("t1", "a"))
	sum, err := h.tr.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Cancelled)

	c, _ := h.cursor("1", "SO")
	assert.Equal(t, "t2_b", c.LastSeen)
}

func TestCancelledBeforeAnnounceDoesNotAdvance(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.set("1", "SO", mk("t1", "a"))
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	h.fetch.set("1", "SO", mk("t2", "b"), mk("t1", "a"))
	h.fetch.block = make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sum, err := h.tr.RunCycle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, sum.Cancelled)
	assert.Empty(t, sum.Failed)
	assert.Empty(t, h.ann.matchIDs())

	c, _ := h.cursor("1", "SO")
	assert.Equal(t, "t1_a", c.LastSeen)
}

func TestOverlappingCycleIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("1", "SO")
	h.fetch.block = make(chan struct{})

	dropped, unsub := h.bus.Subscribe(1, EventTriggerDropped)
	defer unsub()

	done := make(chan error, 1)
	go func() {
		_, err := h.tr.RunCycle(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return h.tr.State() == StateRunning }, time.Second, time.Millisecond)

	_, err := h.tr.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.NoError(t, h.tr.Trigger(context.Background()))
	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("missing trigger.dropped event")
	}

	close(h.fetch.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), h.fetch.calls.Load())
}

func TestConcurrencyIsBounded(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 2})
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		h.addPlayer(id, "SO")
	}
	h.fetch.block = make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(h.fetch.block)
	}()
	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Succeeded)
	assert.LessOrEqual(t, h.fetch.maxInflight.Load(), int32(2))
}

func TestListPlayersFailureDegrades(t *testing.T) {
	fetch := newFakeFetcher()
	bus := eventbus.New()
	listErr := errors.New("db down")
	tr, err := New(Config{}, Deps{Fetcher: fetch, Store: storage.NewMemory(), Players: failingSource{err: listErr}, Announcer: &fakeAnnouncer{}, Bus: bus})
	require.NoError(t, err)

	failed, unsub := bus.Subscribe(1, EventCycleFailed)
	defer unsub()

	_, err = tr.RunCycle(context.Background())
	require.ErrorIs(t, err, listErr)
	assert.Equal(t, StateDegraded, tr.State())
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("missing cycle.failed event")
	}
	_, ok := tr.LastSummary()
	assert.True(t, ok)
}

func TestScopeResolution(t *testing.T) {
	h := newHarness(t, Config{Characters: []string{"ky"}})
	h.addPlayer("1", "SO")
	h.addPlayer("2")
	_, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)

	// Baselines are only stored for non-empty histories; check the calls instead.
	h.fetch.set("1", "SO", mk("t1", "a"))
	h.fetch.set("2", "KY", mk("t1", "a"))
	_, err = h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	_, ok := h.cursor("1", "SO")
	assert.True(t, ok)
	_, ok = h.cursor("2", "KY")
	assert.True(t, ok)

	// Without configured characters, the profile decides.
	h.tr.Apply(Config{})
	h.fetch.profiles["2"] = &puddle.Player{Ratings: []puddle.Rating{{CharShort: "MA"}, {CharShort: "ky"}}}
	h.fetch.set("2", "MA", mk("t1", "m"))
	_, err = h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	_, ok = h.cursor("2", "MA")
	assert.True(t, ok)
}

func TestProfileLookupFailureIsPlayerFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.addPlayer("404")
	sum, err := h.tr.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "", sum.Failed[0].Scope)
	assert.Contains(t, sum.Failed[0].Error, "fetch profile")
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestPlayerPollErrorMessage(t *testing.T) {
	err := &PlayerPollError{PlayerID: "1", PlayerName: "Sol", Scope: "SO", Err: errors.New("x")}
	assert.Equal(t, "poll Sol (1) [SO]: x", err.Error())
}
