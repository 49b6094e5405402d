package puddle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the upstream match timestamp format (UTC).
const TimestampLayout = "2006-01-02 15:04:05"

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// FlexInt decodes a JSON number, a numeric string or null. Valid is false
// for null or missing values.
type FlexInt struct {
	Value int64
	Valid bool
}

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*n = FlexInt{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*n = FlexInt{Value: v, Valid: true}
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("flex int: invalid number %q", raw)
	}
	*n = FlexInt{Value: int64(f), Valid: true}
	return nil
}

func (n FlexInt) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, n.Value, 10), nil
}

// Rating is one character entry of a player profile.
type Rating struct {
	CharShort  string  `json:"char_short"`
	Character  string  `json:"character"`
	Rating     FlexInt `json:"rating"`
	MatchCount FlexInt `json:"match_count"`
	TopChar    FlexInt `json:"top_char"`
}

type Player struct {
	ID        FlexString `json:"id"`
	Name      string     `json:"name"`
	TopGlobal FlexInt    `json:"top_global"`
	Ratings   []Rating   `json:"ratings"`

	Raw json.RawMessage `json:"-"`
}

// CharShorts returns the distinct character codes of the profile, in
// upstream order.
func (p *Player) CharShorts() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool, len(p.Ratings))
	out := make([]string, 0, len(p.Ratings))
	for _, r := range p.Ratings {
		c := strings.ToUpper(strings.TrimSpace(r.CharShort))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Match is one history record as seen from the tracked player.
type Match struct {
	Timestamp         string     `json:"timestamp"`
	OpponentID        FlexString `json:"opponent_id"`
	OpponentName      string     `json:"opponent_name"`
	OpponentCharacter string     `json:"opponent_character"`
	OpponentCharShort string     `json:"opponent_char_short"`
	OwnRating         FlexInt    `json:"own_rating_value"`
	OpponentRating    FlexInt    `json:"opponent_rating_value"`
	ResultWin         bool       `json:"result_win"`

	Raw json.RawMessage `json:"-"`
}

func (m *Match) UnmarshalJSON(b []byte) error {
	type plain Match
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = Match(p)
	m.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// ID is the stable match id: "<timestamp>_<opponent id>". It is empty when
// either part is missing.
func (m Match) ID() string {
	ts := strings.TrimSpace(m.Timestamp)
	opp := strings.TrimSpace(string(m.OpponentID))
	if ts == "" || opp == "" {
		return ""
	}
	return ts + "_" + opp
}

// Time parses Timestamp as UTC.
func (m Match) Time() (time.Time, bool) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(m.Timestamp), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// History is a most-recent-first match list.
type History struct {
	Matches []Match
}

// LeaderboardEntry is one ranked player.
type LeaderboardEntry struct {
	ID        FlexString `json:"id"`
	Name      string     `json:"name"`
	Rating    FlexInt    `json:"rating"`
	CharShort string     `json:"char_short"`
	CharLong  string     `json:"char_long"`
}

type Leaderboard struct {
	Entries []LeaderboardEntry
}

// Popularity is the character usage payload, kept as raw values keyed by
// top-level field.
type Popularity struct {
	Fields map[string]json.RawMessage
}
