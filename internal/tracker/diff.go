package tracker

import (
	"slices"

	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
)

// diffHistory compares a most-recent-first history snapshot with the stored
// cursor. It returns the unseen matches oldest-first and the advanced cursor.
// changed is false when the cursor should not be written.
//
// Every id in the window that is not in the seen set is fresh, including
// records inserted below LastSeen after the previous poll. Without a cursor
// the snapshot becomes the baseline and nothing is reported. Records without
// a derivable id are ignored.
func diffHistory(snapshot []puddle.Match, cur storage.Cursor, hasCursor bool, window, seenCap int) (fresh []puddle.Match, next storage.Cursor, changed bool) {
	if window > 0 && len(snapshot) > window {
		snapshot = snapshot[:window]
	}

	ids := make([]string, 0, len(snapshot))
	recs := make([]puddle.Match, 0, len(snapshot))
	dup := make(map[string]bool, len(snapshot))
	for _, m := range snapshot {
		id := m.ID()
		if id == "" || dup[id] {
			continue
		}
		dup[id] = true
		ids = append(ids, id)
		recs = append(recs, m)
	}
	if len(ids) == 0 {
		return nil, cur, false
	}

	if !hasCursor {
		next = storage.Cursor{LastSeen: ids[0], Seen: capSeen(ids, seenCap)}
		return nil, next, true
	}

	seen := make(map[string]bool, len(cur.Seen)+1)
	seen[cur.LastSeen] = true
	for _, id := range cur.Seen {
		seen[id] = true
	}
	for i, id := range ids {
		if !seen[id] {
			fresh = append(fresh, recs[i])
		}
	}
	slices.Reverse(fresh)

	merged := slices.Clone(ids)
	for _, id := range cur.Seen {
		if !dup[id] {
			merged = append(merged, id)
		}
	}
	next = storage.Cursor{LastSeen: ids[0], Seen: capSeen(merged, seenCap)}
	changed = next.LastSeen != cur.LastSeen || !slices.Equal(next.Seen, cur.Seen)
	return fresh, next, changed
}

func capSeen(ids []string, n int) []string {
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return slices.Clone(ids)
}
