package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "puddlebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

// sqlStore is shared by the sqlite and postgres drivers. Queries are written
// with '?' placeholders and rebound for drivers that number them.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	driver   string
	numbered bool
}

// newSQLStore pings db and applies the embedded schema. db is closed when
// either step fails.
func newSQLStore(db *sql.DB, driver string, numbered bool, log logx.Logger) (*sqlStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st := &sqlStore{db: db, log: log, driver: driver, numbered: numbered}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(migrationsSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.driver, err)
		}
	}
	return nil
}

// rebind turns '?' placeholders into $1..$n when the driver needs it.
func (s *sqlStore) rebind(q string) string {
	if !s.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) GetCursor(ctx context.Context, key CursorKey) (Cursor, bool, error) {
	key = normalizeKey(key)
	var (
		c       Cursor
		seen    string
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT last_seen, seen, updated_at FROM cursors WHERE player_id = ? AND scope = ?`),
		key.PlayerID, key.Scope,
	).Scan(&c.LastSeen, &seen, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	if err := json.Unmarshal([]byte(seen), &c.Seen); err != nil {
		return Cursor{}, false, fmt.Errorf("cursor %s: decode seen: %w", key, err)
	}
	c.UpdatedAt = parseTime(updated)
	return c, true, nil
}

func (s *sqlStore) PutCursor(ctx context.Context, key CursorKey, c Cursor) error {
	key = normalizeKey(key)
	seen, err := json.Marshal(nonNil(c.Seen))
	if err != nil {
		return err
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO cursors(player_id, scope, last_seen, seen, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(player_id, scope) DO UPDATE SET
		   last_seen = excluded.last_seen, seen = excluded.seen, updated_at = excluded.updated_at`),
		key.PlayerID, key.Scope, c.LastSeen, string(seen), formatTime(c.UpdatedAt),
	)
	return err
}

func (s *sqlStore) ResetCursors(ctx context.Context, playerID, scope string) (int, error) {
	key := normalizeKey(CursorKey{PlayerID: playerID, Scope: scope})
	var (
		res sql.Result
		err error
	)
	if key.Scope == "" {
		res, err = s.db.ExecContext(ctx, s.rebind(`DELETE FROM cursors WHERE player_id = ?`), key.PlayerID)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`DELETE FROM cursors WHERE player_id = ? AND scope = ?`), key.PlayerID, key.Scope)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqlStore) ListPlayers(ctx context.Context) ([]Player, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, characters, created_at FROM players`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Player
	for rows.Next() {
		var (
			p       Player
			chars   string
			created string
		)
		if err := rows.Scan(&p.ID, &p.Name, &chars, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(chars), &p.Characters); err != nil {
			s.log.Warn("player characters unreadable", logx.String("driver", s.driver), logx.String("player_id", p.ID), logx.Err(err))
		}
		if len(p.Characters) == 0 {
			p.Characters = nil
		}
		p.AddedAt = parseTime(created)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortPlayers(out)
	return out, nil
}

func (s *sqlStore) AddPlayer(ctx context.Context, p Player) error {
	p, err := normalizePlayer(p)
	if err != nil {
		return err
	}
	chars, err := json.Marshal(nonNil(p.Characters))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO players(id, name, characters, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, characters = excluded.characters`),
		p.ID, p.Name, string(chars), formatTime(p.AddedAt),
	)
	return err
}

func (s *sqlStore) RemovePlayer(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM players WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM cursors WHERE player_id = ?`), id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
