// Package commands routes chat updates to owner-only bot commands for
// managing tracked players and looking up upstream data.
package commands

import (
	"context"
	"time"

	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	"puddlebot/internal/tracker"
	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Registry is the player registry and cursor store.
type Registry interface {
	ListPlayers(ctx context.Context) ([]storage.Player, error)
	AddPlayer(ctx context.Context, p storage.Player) error
	RemovePlayer(ctx context.Context, id string) (bool, error)
	ResetCursors(ctx context.Context, playerID, scope string) (int, error)
}

type Upstream interface {
	Health(ctx context.Context) bool
	Player(ctx context.Context, id string) (*puddle.Player, error)
	Top(ctx context.Context) (*puddle.Leaderboard, error)
	TopForCharacter(ctx context.Context, char string) (*puddle.Leaderboard, error)
}

type TrackerView interface {
	State() tracker.CycleState
	LastSummary() (tracker.CycleSummary, bool)
}

type Deps struct {
	Adapter  kit.Adapter
	Registry Registry
	Upstream Upstream
	Tracker  TrackerView
	// PollNow requests an immediate cycle. It reports false when a cycle is
	// already running.
	PollNow func() bool
	Logger  logx.Logger
	Owners  []int64
	Workers int
}
