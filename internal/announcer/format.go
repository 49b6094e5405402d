package announcer

import (
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"puddlebot/internal/puddle"
	"puddlebot/internal/tracker"
)

const footerTimeLayout = "2006-01-02 15:04:05"

var numbers = message.NewPrinter(language.English)

// FormatRating renders a rating with thousands separators.
func FormatRating(v int64) string { return numbers.Sprintf("%d", v) }

// Render formats one match. With asHTML the result uses Telegram HTML markup;
// otherwise it is plain text.
func Render(m tracker.NewMatch, loc *time.Location, asHTML bool) string {
	if loc == nil {
		loc = time.UTC
	}
	esc := func(s string) string { return s }
	bold := func(s string) string { return s }
	italic := func(s string) string { return s }
	if asHTML {
		esc = html.EscapeString
		bold = func(s string) string { return "<b>" + s + "</b>" }
		italic = func(s string) string { return "<i>" + s + "</i>" }
	}

	rec := m.Record
	name := orUnknown(m.Player.Name, m.Player.ID)
	char := puddle.CharacterName(m.Scope)
	opp := orUnknown(rec.OpponentName, string(rec.OpponentID))
	oppChar := orUnknown(rec.OpponentCharacter, puddle.CharacterName(rec.OpponentCharShort))

	var b strings.Builder
	if rec.ResultWin {
		b.WriteString("🏆 " + bold("Victory!") + "\n")
		fmt.Fprintf(&b, "%s (%s) beat %s (%s)\n", bold(esc(name)), esc(char), bold(esc(opp)), esc(oppChar))
	} else {
		b.WriteString("💀 " + bold("Defeat") + "\n")
		fmt.Fprintf(&b, "%s (%s) lost to %s (%s)\n", bold(esc(name)), esc(char), bold(esc(opp)), esc(oppChar))
	}

	side := func(who string, r puddle.FlexInt) {
		if !r.Valid {
			return
		}
		fmt.Fprintf(&b, "\n%s\nRating: %s\nRank: %s\n", bold(esc(who)), FormatRating(r.Value), Rank(r.Value))
	}
	side(name, rec.OwnRating)
	side(opp, rec.OpponentRating)

	b.WriteString("\n" + italic("puddle.farm • "+esc(localTime(rec, loc))))
	return b.String()
}

func localTime(rec puddle.Match, loc *time.Location) string {
	t, ok := rec.Time()
	if !ok {
		return orUnknown(rec.Timestamp, "?")
	}
	return t.In(loc).Format(footerTimeLayout)
}

func orUnknown(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v != "" {
		return v
	}
	fallback = strings.TrimSpace(fallback)
	if fallback != "" {
		return fallback
	}
	return "?"
}
