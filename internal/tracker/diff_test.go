package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
)

func mk(ts, opp string) puddle.Match {
	return puddle.Match{Timestamp: ts, OpponentID: puddle.FlexString(opp)}
}

func ids(ms []puddle.Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID())
	}
	return out
}

func TestDiffBaselineEmitsNothing(t *testing.T) {
	snap := []puddle.Match{mk("t3", "a"), mk("t2", "b"), mk("t1", "c")}
	fresh, next, changed := diffHistory(snap, storage.Cursor{}, false, 5, 20)
	assert.Empty(t, fresh)
	assert.True(t, changed)
	assert.Equal(t, "t3_a", next.LastSeen)
	assert.Equal(t, []string{"t3_a", "t2_b", "t1_c"}, next.Seen)
}

func TestDiffEmptySnapshotStoresNothing(t *testing.T) {
	_, _, changed := diffHistory(nil, storage.Cursor{}, false, 5, 20)
	assert.False(t, changed)

	cur := storage.Cursor{LastSeen: "x", Seen: []string{"x"}}
	fresh, next, changed := diffHistory([]puddle.Match{mk("", "a")}, cur, true, 5, 20)
	assert.Empty(t, fresh)
	assert.False(t, changed)
	assert.Equal(t, cur, next)
}

func TestDiffEmitsNewOldestFirst(t *testing.T) {
	cur := storage.Cursor{LastSeen: "t1_c", Seen: []string{"t1_c", "t0_d"}}
	snap := []puddle.Match{mk("t4", "x"), mk("t3", "a"), mk("t2", "b"), mk("t1", "c")}
	fresh, next, changed := diffHistory(snap, cur, true, 5, 20)
	assert.True(t, changed)
	assert.Equal(t, []string{"t2_b", "t3_a", "t4_x"}, ids(fresh))
	assert.Equal(t, "t4_x", next.LastSeen)
	assert.Equal(t, []string{"t4_x", "t3_a", "t2_b", "t1_c", "t0_d"}, next.Seen)
}

func TestDiffReportsLateInsertBelowLastSeen(t *testing.T) {
	cur := storage.Cursor{LastSeen: "t3_a", Seen: []string{"t3_a", "t2_b", "t1_c"}}
	snap := []puddle.Match{mk("t4", "d"), mk("t3", "a"), mk("t2.5", "x"), mk("t2", "b"), mk("t1", "c")}
	fresh, next, changed := diffHistory(snap, cur, true, 5, 20)
	assert.True(t, changed)
	assert.Equal(t, []string{"t2.5_x", "t4_d"}, ids(fresh))

	fresh, _, changed = diffHistory(snap, next, true, 5, 20)
	assert.Empty(t, fresh)
	assert.False(t, changed)
}

func TestDiffSkipsSeenAboveLastSeen(t *testing.T) {
	// Upstream reordering: an already announced id shows up above LastSeen.
	cur := storage.Cursor{LastSeen: "t1_c", Seen: []string{"t2_b", "t1_c"}}
	snap := []puddle.Match{mk("t3", "a"), mk("t2", "b"), mk("t1", "c")}
	fresh, _, _ := diffHistory(snap, cur, true, 5, 20)
	assert.Equal(t, []string{"t3_a"}, ids(fresh))
}

func TestDiffNoChange(t *testing.T) {
	cur := storage.Cursor{LastSeen: "t2_b", Seen: []string{"t2_b", "t1_c"}}
	snap := []puddle.Match{mk("t2", "b"), mk("t1", "c")}
	fresh, _, changed := diffHistory(snap, cur, true, 5, 20)
	assert.Empty(t, fresh)
	assert.False(t, changed)
}

func TestDiffSkipsRecordsWithoutID(t *testing.T) {
	cur := storage.Cursor{LastSeen: "t1_c", Seen: []string{"t1_c"}}
	snap := []puddle.Match{mk("t3", ""), mk("t2", "b"), mk("", "q"), mk("t1", "c")}
	fresh, next, _ := diffHistory(snap, cur, true, 5, 20)
	assert.Equal(t, []string{"t2_b"}, ids(fresh))
	assert.Equal(t, "t2_b", next.LastSeen)
}

func TestDiffWindowAndSeenCap(t *testing.T) {
	snap := []puddle.Match{mk("t5", "a"), mk("t4", "a"), mk("t3", "a"), mk("t2", "a"), mk("t1", "a")}
	cur := storage.Cursor{LastSeen: "t0_a", Seen: []string{"t0_a", "s1", "s2"}}
	fresh, next, _ := diffHistory(snap, cur, true, 3, 4)
	assert.Equal(t, []string{"t3_a", "t4_a", "t5_a"}, ids(fresh))
	assert.Equal(t, []string{"t5_a", "t4_a", "t3_a", "t0_a"}, next.Seen)
}
