package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
)

const (
	DefaultConcurrency   = 4
	DefaultHistoryWindow = 5
	DefaultSeenCacheSize = 20
)

// Fetcher is the subset of the puddle.farm client the tracker polls.
type Fetcher interface {
	Player(ctx context.Context, id string) (*puddle.Player, error)
	PlayerHistory(ctx context.Context, id, char string) (*puddle.History, error)
}

type StateStore interface {
	GetCursor(ctx context.Context, key storage.CursorKey) (storage.Cursor, bool, error)
	PutCursor(ctx context.Context, key storage.CursorKey, c storage.Cursor) error
}

type PlayerSource interface {
	ListPlayers(ctx context.Context) ([]storage.Player, error)
}

// Announcer delivers one batch of new matches. A nil error means the batch
// was accepted and the cursor may advance.
type Announcer interface {
	Announce(ctx context.Context, batch []NewMatch) error
}

type Config struct {
	Concurrency   int
	HistoryWindow int
	SeenCacheSize int
	// Characters is the fallback scope list for players without their own.
	Characters []string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.SeenCacheSize <= 0 {
		c.SeenCacheSize = DefaultSeenCacheSize
	}
	if c.SeenCacheSize < c.HistoryWindow {
		c.SeenCacheSize = c.HistoryWindow
	}
	return c
}

// NewMatch is a match discovered since the previous poll.
type NewMatch struct {
	Player       storage.Player
	Scope        string
	MatchID      string
	Record       puddle.Match
	DiscoveredAt time.Time
}

type CycleState int32

const (
	StateIdle CycleState = iota
	StateRunning
	StateDegraded
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s CycleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type PlayerFailure struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Error      string `json:"error"`
}

// CycleSummary is the outcome of one poll cycle.
type CycleSummary struct {
	CycleID    uuid.UUID       `json:"cycle_id"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Players    int             `json:"players"`
	Succeeded  int             `json:"succeeded"`
	Failed     []PlayerFailure `json:"failed,omitempty"`
	NewMatches int             `json:"new_matches"`
	Cancelled  bool            `json:"cancelled,omitempty"`
}

// Event payloads published on the bus.
type (
	CycleStartedEvent struct {
		CycleID uuid.UUID
		Players int
	}
	CycleFailedEvent struct {
		CycleID uuid.UUID
		Err     error
	}
	PlayerFailedEvent struct {
		CycleID uuid.UUID
		Err     *PlayerPollError
	}
	MatchEvent struct {
		CycleID uuid.UUID
		Match   NewMatch
	}
)

const (
	EventCycleStarted   = "tracker.cycle.started"
	EventCycleFinished  = "tracker.cycle.finished"
	EventCycleFailed    = "tracker.cycle.failed"
	EventMatchNew       = "tracker.match.new"
	EventPlayerFailed   = "tracker.player.failed"
	EventTriggerDropped = "tracker.trigger.dropped"
)
