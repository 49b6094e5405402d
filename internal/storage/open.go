package storage

import (
	"context"
	"fmt"
	"strings"

	logx "puddlebot/pkg/logx"
)

// Store is the persistence surface used by the tracker, the chat commands and
// the CLI.
type Store interface {
	GetCursor(ctx context.Context, key CursorKey) (Cursor, bool, error)
	PutCursor(ctx context.Context, key CursorKey, c Cursor) error
	// ResetCursors deletes the cursors of a player. An empty scope resets
	// every scope. It returns how many cursors were removed.
	ResetCursors(ctx context.Context, playerID, scope string) (int, error)

	ListPlayers(ctx context.Context) ([]Player, error)
	AddPlayer(ctx context.Context, p Player) error
	// RemovePlayer also drops the player's cursors.
	RemovePlayer(ctx context.Context, id string) (bool, error)

	Close() error
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch d {
	case "", "memory":
		return NewMemory(), nil
	case "none", "disabled":
		return nil, ErrDisabled
	case "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// SeedPlayers upserts the configured players. Registration time is kept
// for players that already exist.
func SeedPlayers(ctx context.Context, st Store, seeds []Player) (int, error) {
	if st == nil {
		return 0, nil
	}
	n := 0
	for _, p := range seeds {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		if err := st.AddPlayer(ctx, p); err != nil {
			return n, fmt.Errorf("seed player %s: %w", p.ID, err)
		}
		n++
	}
	return n, nil
}
