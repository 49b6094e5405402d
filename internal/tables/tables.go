// Package tables renders players, leaderboards and cycle summaries with
// go-pretty for the CLI and chat commands.
package tables

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"puddlebot/internal/announcer"
	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	"puddlebot/internal/tracker"
)

// Style selects the box drawing. Chat output uses Plain so it survives
// monospace rendering in <pre> blocks.
type Style int

const (
	Plain Style = iota
	Rounded
)

func newWriter(s Style) table.Writer {
	t := table.NewWriter()
	if s == Rounded {
		t.SetStyle(table.StyleRounded)
	} else {
		t.SetStyle(table.StyleLight)
		t.Style().Options.DrawBorder = false
		t.Style().Options.SeparateColumns = false
	}
	return t
}

// Players renders the registry in its stored order.
func Players(players []storage.Player, s Style) string {
	t := newWriter(s)
	t.AppendHeader(table.Row{"ID", "Name", "Chars", "Added"})
	for _, p := range players {
		chars := "auto"
		if len(p.Characters) > 0 {
			chars = strings.Join(p.Characters, ",")
		}
		t.AppendRow(table.Row{p.ID, p.Name, chars, p.AddedAt.UTC().Format(time.DateOnly)})
	}
	if len(players) == 0 {
		t.AppendRow(table.Row{"-", "no players tracked", "", ""})
	}
	return t.Render()
}

// Leaderboard renders at most limit entries; limit <= 0 means all.
func Leaderboard(lb puddle.Leaderboard, limit int, s Style) string {
	t := newWriter(s)
	t.AppendHeader(table.Row{"#", "Name", "Char", "Rating", "Rank"})
	for i, e := range lb.Entries {
		if limit > 0 && i >= limit {
			break
		}
		char := e.CharShort
		if char == "" {
			char = e.CharLong
		}
		rating, rank := "-", "-"
		if e.Rating.Valid {
			rating = announcer.FormatRating(e.Rating.Value)
			rank = announcer.Rank(e.Rating.Value)
		}
		t.AppendRow(table.Row{i + 1, e.Name, char, rating, rank})
	}
	return t.Render()
}

// Summary renders one cycle summary with its failures.
func Summary(state tracker.CycleState, sum tracker.CycleSummary, ok bool, s Style) string {
	t := newWriter(s)
	t.AppendRow(table.Row{"State", state.String()})
	if !ok {
		t.AppendRow(table.Row{"Last cycle", "none yet"})
		return t.Render()
	}
	t.AppendRow(table.Row{"Cycle", sum.CycleID.String()[:8]})
	t.AppendRow(table.Row{"Started", sum.StartedAt.UTC().Format(time.DateTime)})
	t.AppendRow(table.Row{"Took", sum.Duration.Round(time.Millisecond).String()})
	t.AppendRow(table.Row{"Players", fmt.Sprintf("%d ok / %d", sum.Succeeded, sum.Players)})
	t.AppendRow(table.Row{"New matches", sum.NewMatches})
	if sum.Cancelled {
		t.AppendRow(table.Row{"Cancelled", "yes"})
	}
	for _, f := range sum.Failed {
		who := f.PlayerID
		if f.PlayerName != "" {
			who = f.PlayerName + " (" + f.PlayerID + ")"
		}
		if f.Scope != "" {
			who += " [" + f.Scope + "]"
		}
		t.AppendRow(table.Row{"Failed", who + ": " + f.Error})
	}
	return t.Render()
}
