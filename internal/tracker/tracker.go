package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"puddlebot/internal/eventbus"
	"puddlebot/internal/storage"
	logx "puddlebot/pkg/logx"
)

const persistTimeout = 5 * time.Second

type Deps struct {
	Fetcher   Fetcher
	Store     StateStore
	Players   PlayerSource
	Announcer Announcer
	Bus       eventbus.Bus
	Logger    logx.Logger
}

// Tracker polls the history of every registered player and announces matches
// that appeared since the previous poll. At most one cycle runs at a time.
type Tracker struct {
	fetch     Fetcher
	store     StateStore
	players   PlayerSource
	announcer Announcer
	bus       eventbus.Bus
	log       logx.Logger

	cfgMu sync.RWMutex
	cfg   Config

	state atomic.Int32

	sumMu   sync.RWMutex
	last    CycleSummary
	hasLast bool

	now func() time.Time
}

func New(cfg Config, d Deps) (*Tracker, error) {
	switch {
	case d.Fetcher == nil:
		return nil, errors.New("tracker: fetcher is required")
	case d.Store == nil:
		return nil, errors.New("tracker: state store is required")
	case d.Players == nil:
		return nil, errors.New("tracker: player source is required")
	case d.Announcer == nil:
		return nil, errors.New("tracker: announcer is required")
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		fetch:     d.Fetcher,
		store:     d.Store,
		players:   d.Players,
		announcer: d.Announcer,
		bus:       d.Bus,
		log:       log.With(logx.String("comp", "tracker")),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}, nil
}

// Apply swaps the configuration. A running cycle keeps the one it started with.
func (t *Tracker) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	t.cfgMu.Lock()
	t.cfg = cfg
	t.cfgMu.Unlock()
	t.log.Info("tracker config applied",
		logx.Int("concurrency", cfg.Concurrency),
		logx.Int("history_window", cfg.HistoryWindow),
		logx.Int("seen_cache", cfg.SeenCacheSize),
		logx.Strings("characters", cfg.Characters),
	)
}

func (t *Tracker) config() Config {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

func (t *Tracker) State() CycleState { return CycleState(t.state.Load()) }

func (t *Tracker) LastSummary() (CycleSummary, bool) {
	t.sumMu.RLock()
	defer t.sumMu.RUnlock()
	return t.last, t.hasLast
}

// Trigger runs one cycle. A trigger that arrives while a cycle is in flight
// is dropped and reported as success.
func (t *Tracker) Trigger(ctx context.Context) error {
	sum, err := t.RunCycle(ctx)
	if errors.Is(err, ErrCycleRunning) {
		t.log.Debug("poll trigger dropped; cycle in flight")
		t.publish(EventTriggerDropped, nil)
		return nil
	}
	if err != nil {
		return err
	}
	if len(sum.Failed) > 0 {
		t.log.Warn("poll cycle finished with failures",
			logx.String("cycle_id", sum.CycleID.String()),
			logx.Int("failed", len(sum.Failed)),
			logx.Int("succeeded", sum.Succeeded),
		)
	}
	return nil
}

func (t *Tracker) begin() bool {
	for {
		cur := t.state.Load()
		if CycleState(cur) == StateRunning {
			return false
		}
		if t.state.CompareAndSwap(cur, int32(StateRunning)) {
			return true
		}
	}
}

// RunCycle polls every registered player once. Player failures are isolated
// and reported in the summary; only a failure to list players fails the
// whole cycle. A cancelled cycle returns ctx.Err() with its partial summary.
func (t *Tracker) RunCycle(ctx context.Context) (CycleSummary, error) {
	if !t.begin() {
		return CycleSummary{}, ErrCycleRunning
	}
	cfg := t.config()
	sum := CycleSummary{CycleID: uuid.New(), StartedAt: t.now()}
	log := t.log.With(logx.String("cycle_id", sum.CycleID.String()))

	players, err := t.players.ListPlayers(ctx)
	if err != nil {
		err = fmt.Errorf("list players: %w", err)
		sum.Duration = t.now().Sub(sum.StartedAt)
		t.finish(sum, StateDegraded)
		log.Error("poll cycle failed", logx.Err(err))
		t.publish(EventCycleFailed, CycleFailedEvent{CycleID: sum.CycleID, Err: err})
		return sum, err
	}
	sum.Players = len(players)
	t.publish(EventCycleStarted, CycleStartedEvent{CycleID: sum.CycleID, Players: len(players)})
	log.Debug("poll cycle started", logx.Int("players", len(players)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.Concurrency)
	for _, p := range players {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, fails := t.pollPlayer(ctx, sum.CycleID, cfg, p)
			mu.Lock()
			defer mu.Unlock()
			sum.NewMatches += n
			if len(fails) == 0 {
				sum.Succeeded++
				return nil
			}
			for _, f := range fails {
				if ctx.Err() != nil && errors.Is(f.Err, ctx.Err()) {
					continue
				}
				sum.Failed = append(sum.Failed, PlayerFailure{
					PlayerID:   f.PlayerID,
					PlayerName: f.PlayerName,
					Scope:      f.Scope,
					Error:      f.Err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = t.now().Sub(sum.StartedAt)
	sum.Cancelled = ctx.Err() != nil
	next := StateIdle
	if len(sum.Failed) > 0 {
		next = StateDegraded
	}
	t.finish(sum, next)
	t.publish(EventCycleFinished, sum)

	log.Info("poll cycle finished",
		logx.Int("players", sum.Players),
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("failed", len(sum.Failed)),
		logx.Int("new_matches", sum.NewMatches),
		logx.Duration("took", sum.Duration),
		logx.Bool("cancelled", sum.Cancelled),
	)
	if sum.Cancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

func (t *Tracker) finish(sum CycleSummary, next CycleState) {
	t.sumMu.Lock()
	t.last = sum
	t.hasLast = true
	t.sumMu.Unlock()
	t.state.Store(int32(next))
}

func (t *Tracker) pollPlayer(ctx context.Context, cycleID uuid.UUID, cfg Config, p storage.Player) (int, []*PlayerPollError) {
	fail := func(scope string, err error) *PlayerPollError {
		pe := &PlayerPollError{PlayerID: p.ID, PlayerName: p.Name, Scope: scope, Err: err}
		if ctx.Err() == nil {
			t.log.Warn("player poll failed",
				logx.String("cycle_id", cycleID.String()),
				logx.String("player_id", p.ID),
				logx.String("player", p.Name),
				logx.String("scope", scope),
				logx.Err(err),
			)
			t.publish(EventPlayerFailed, PlayerFailedEvent{CycleID: cycleID, Err: pe})
		}
		return pe
	}

	scopes, err := t.scopes(ctx, cfg, p)
	if err != nil {
		return 0, []*PlayerPollError{fail("", err)}
	}
	if len(scopes) == 0 {
		t.log.Debug("player has no characters to poll", logx.String("player_id", p.ID))
		return 0, nil
	}

	total := 0
	var fails []*PlayerPollError
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			fails = append(fails, &PlayerPollError{PlayerID: p.ID, PlayerName: p.Name, Scope: scope, Err: err})
			break
		}
		n, err := t.pollScope(ctx, cycleID, cfg, p, scope)
		total += n
		if err != nil {
			fails = append(fails, fail(scope, err))
		}
	}
	return total, fails
}

// scopes resolves the characters to poll: the player's own list, then the
// configured list, then the characters on the player's profile.
func (t *Tracker) scopes(ctx context.Context, cfg Config, p storage.Player) ([]string, error) {
	if len(p.Characters) > 0 {
		return normalizeChars(p.Characters), nil
	}
	if len(cfg.Characters) > 0 {
		return normalizeChars(cfg.Characters), nil
	}
	prof, err := t.fetch.Player(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return prof.CharShorts(), nil
}

func normalizeChars(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// pollScope diffs one (player, character) history. The cursor is written
// only after the announcer accepted the batch; the write itself is detached
// from ctx so an accepted batch is never re-announced because of a late
// cancellation.
func (t *Tracker) pollScope(ctx context.Context, cycleID uuid.UUID, cfg Config, p storage.Player, scope string) (int, error) {
	key := storage.CursorKey{PlayerID: p.ID, Scope: scope}
	cur, ok, err := t.store.GetCursor(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	hist, err := t.fetch.PlayerHistory(ctx, p.ID, scope)
	if err != nil {
		return 0, fmt.Errorf("fetch history: %w", err)
	}

	fresh, next, changed := diffHistory(hist.Matches, cur, ok, cfg.HistoryWindow, cfg.SeenCacheSize)
	if !changed && len(fresh) == 0 {
		return 0, nil
	}

	var batch []NewMatch
	if len(fresh) > 0 {
		at := t.now()
		batch = make([]NewMatch, 0, len(fresh))
		for _, m := range fresh {
			batch = append(batch, NewMatch{Player: p, Scope: scope, MatchID: m.ID(), Record: m, DiscoveredAt: at})
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := t.announcer.Announce(ctx, batch); err != nil {
			return 0, fmt.Errorf("announce: %w", err)
		}
	}

	next.UpdatedAt = t.now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	err = t.store.PutCursor(pctx, key, next)
	cancel()
	if err != nil {
		return len(batch), fmt.Errorf("store cursor: %w", err)
	}

	if !ok {
		t.log.Info("history baseline recorded",
			logx.String("player_id", p.ID),
			logx.String("scope", scope),
			logx.String("last_seen", next.LastSeen),
		)
		return 0, nil
	}
	for _, m := range batch {
		t.publish(EventMatchNew, MatchEvent{CycleID: cycleID, Match: m})
	}
	if len(batch) > 0 {
		t.log.Info("new matches announced",
			logx.String("player_id", p.ID),
			logx.String("player", p.Name),
			logx.String("scope", scope),
			logx.Int("count", len(batch)),
		)
	}
	return len(batch), nil
}

func (t *Tracker) publish(typ string, data any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
