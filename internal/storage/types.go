package storage

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": non-durable, for tests and dry runs
//   - "file": JSON snapshot rewritten atomically on every change
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL (DSN)
//   - "redis": Redis hashes under KeyPrefix
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Player is a tracked puddle.farm player. An empty Characters list means the
// tracker falls back to its configured or discovered characters.
type Player struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Characters []string  `json:"characters,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// CursorKey identifies one tracked history: a player and a character scope.
type CursorKey struct {
	PlayerID string
	Scope    string
}

func (k CursorKey) String() string { return k.PlayerID + "/" + k.Scope }

// Cursor is the persisted diff position of one history. Seen holds recent
// match ids, newest first.
type Cursor struct {
	LastSeen  string    `json:"last_seen"`
	Seen      []string  `json:"seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Cursor) clone() Cursor {
	c.Seen = slices.Clone(c.Seen)
	return c
}

func normalizeKey(k CursorKey) CursorKey {
	return CursorKey{PlayerID: strings.TrimSpace(k.PlayerID), Scope: strings.ToUpper(strings.TrimSpace(k.Scope))}
}

func normalizePlayer(p Player) (Player, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return Player{}, errors.New("player id is required")
	}
	p.Name = strings.TrimSpace(p.Name)
	chars := make([]string, 0, len(p.Characters))
	for _, c := range p.Characters {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" && !slices.Contains(chars, c) {
			chars = append(chars, c)
		}
	}
	if len(chars) == 0 {
		chars = nil
	}
	p.Characters = chars
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now().UTC()
	}
	return p, nil
}
