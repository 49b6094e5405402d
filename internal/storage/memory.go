package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// snapshot is the whole registry. It is also the on-disk document of the
// file driver.
type snapshot struct {
	Players map[string]Player            `json:"players"`
	Cursors map[string]map[string]Cursor `json:"cursors"`
}

func newSnapshot() *snapshot {
	return &snapshot{Players: map[string]Player{}, Cursors: map[string]map[string]Cursor{}}
}

// memoryStore keeps everything in maps. persist, when set, is called with the
// lock held after every mutation; a failed persist rolls the change back.
type memoryStore struct {
	mu      sync.Mutex
	data    *snapshot
	closed  bool
	persist func(*snapshot) error
}

// NewMemory returns a non-durable store.
func NewMemory() Store {
	return &memoryStore{data: newSnapshot()}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// mutate runs fn on a copy of the data and commits it when persist succeeds.
func (s *memoryStore) mutate(fn func(d *snapshot) bool) error {
	if s.closed {
		return ErrClosed
	}
	next := s.data.copy()
	if !fn(next) {
		return nil
	}
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return err
		}
	}
	s.data = next
	return nil
}

func (d *snapshot) copy() *snapshot {
	out := newSnapshot()
	for id, p := range d.Players {
		out.Players[id] = p
	}
	for id, m := range d.Cursors {
		cm := make(map[string]Cursor, len(m))
		for scope, c := range m {
			cm[scope] = c
		}
		out.Cursors[id] = cm
	}
	return out
}

func (s *memoryStore) GetCursor(_ context.Context, key CursorKey) (Cursor, bool, error) {
	key = normalizeKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Cursor{}, false, ErrClosed
	}
	c, ok := s.data.Cursors[key.PlayerID][key.Scope]
	if !ok {
		return Cursor{}, false, nil
	}
	return c.clone(), true, nil
}

func (s *memoryStore) PutCursor(_ context.Context, key CursorKey, c Cursor) error {
	key = normalizeKey(key)
	c = c.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(func(d *snapshot) bool {
		m := d.Cursors[key.PlayerID]
		if m == nil {
			m = map[string]Cursor{}
			d.Cursors[key.PlayerID] = m
		}
		m[key.Scope] = c
		return true
	})
}

func (s *memoryStore) ResetCursors(_ context.Context, playerID, scope string) (int, error) {
	key := normalizeKey(CursorKey{PlayerID: playerID, Scope: scope})
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	err := s.mutate(func(d *snapshot) bool {
		m := d.Cursors[key.PlayerID]
		if key.Scope == "" {
			n = len(m)
			delete(d.Cursors, key.PlayerID)
			return n > 0
		}
		if _, ok := m[key.Scope]; ok {
			delete(m, key.Scope)
			n = 1
		}
		return n > 0
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *memoryStore) ListPlayers(_ context.Context) ([]Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Player, 0, len(s.data.Players))
	for _, p := range s.data.Players {
		out = append(out, p)
	}
	sortPlayers(out)
	return out, nil
}

func (s *memoryStore) AddPlayer(_ context.Context, p Player) error {
	p, err := normalizePlayer(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(func(d *snapshot) bool {
		if old, ok := d.Players[p.ID]; ok {
			p.AddedAt = old.AddedAt
		}
		d.Players[p.ID] = p
		return true
	})
}

func (s *memoryStore) RemovePlayer(_ context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	err := s.mutate(func(d *snapshot) bool {
		if _, ok := d.Players[id]; !ok {
			return false
		}
		delete(d.Players, id)
		delete(d.Cursors, id)
		removed = true
		return true
	})
	return removed, err
}

// sortPlayers orders by registration time, then id.
func sortPlayers(ps []Player) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].AddedAt.Equal(ps[j].AddedAt) {
			return ps[i].AddedAt.Before(ps[j].AddedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
