package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"puddlebot/internal/announcer"
	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	"puddlebot/internal/tables"
	logx "puddlebot/pkg/logx"
)

const topLimit = 20

var errUsage = errors.New("usage")

func (x *Dispatcher) builtin() []Command {
	return []Command{
		{Name: "track", Aliases: []string{"add"}, Description: "track a player", Usage: "/track <id> [name] [chars...]", Handle: x.cmdTrack},
		{Name: "untrack", Aliases: []string{"remove"}, Description: "stop tracking a player", Usage: "/untrack <id>", Handle: x.cmdUntrack},
		{Name: "players", Aliases: []string{"list"}, Description: "list tracked players", Usage: "/players", Handle: x.cmdPlayers},
		{Name: "stats", Description: "show a player's ratings", Usage: "/stats <id>", Handle: x.cmdStats},
		{Name: "top", Description: "show the leaderboard", Usage: "/top [char]", Handle: x.cmdTop},
		{Name: "status", Description: "show the last poll cycle", Usage: "/status", Handle: x.cmdStatus},
		{Name: "health", Description: "check puddle.farm", Usage: "/health", Timeout: 10 * time.Second, Handle: x.cmdHealth},
		{Name: "poll", Description: "poll now", Usage: "/poll", Handle: x.cmdPoll},
		{Name: "reset", Description: "reset stored cursors", Usage: "/reset <id> [char]", Handle: x.cmdReset},
		{Name: "help", Aliases: []string{"start"}, Description: "show help", Usage: "/help", Access: AccessEveryone, Handle: x.cmdHelp},
	}
}

func (x *Dispatcher) reply(ctx context.Context, req *Request, text string) error {
	x.send(ctx, req.Chat, text)
	return nil
}

func (x *Dispatcher) usage(ctx context.Context, req *Request) error {
	if c, ok := x.lookup(req.Command); ok {
		return x.reply(ctx, req, "usage: <code>"+html.EscapeString(c.Usage)+"</code>")
	}
	return errUsage
}

func pre(s string) string { return "<pre>" + html.EscapeString(s) + "</pre>" }

// parseChars validates character codes against the roster.
func parseChars(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	var bad []string
	for _, a := range args {
		c, ok := puddle.NormalizeCharacter(a)
		if !ok {
			bad = append(bad, a)
			continue
		}
		out = append(out, c)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("unknown character %s (known: %s)", strings.Join(bad, ", "), strings.Join(puddle.CharacterCodes(), " "))
	}
	return out, nil
}

func (x *Dispatcher) cmdTrack(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return x.usage(ctx, req)
	}
	id := strings.TrimSpace(req.Args[0])
	var name string
	var charArgs []string
	if len(req.Args) > 1 {
		name = req.Args[1]
		charArgs = req.Args[2:]
	}
	chars, err := parseChars(charArgs)
	if err != nil {
		return err
	}

	if x.deps.Upstream != nil {
		prof, err := x.deps.Upstream.Player(ctx, id)
		if err != nil {
			if puddle.StatusOf(err) == http.StatusNotFound {
				return fmt.Errorf("player %s not found on puddle.farm", id)
			}
			return fmt.Errorf("verify player: %w", err)
		}
		if name == "" {
			name = prof.Name
		}
	}
	if name == "" {
		name = id
	}
	if err := x.deps.Registry.AddPlayer(ctx, storage.Player{ID: id, Name: name, Characters: chars}); err != nil {
		return err
	}
	scope := "all characters"
	if len(chars) > 0 {
		scope = strings.Join(chars, ", ")
	}
	req.Logger.Info("player tracked", logx.String("id", id), logx.Strings("chars", chars))
	return x.reply(ctx, req, fmt.Sprintf("✅ tracking <b>%s</b> (<code>%s</code>) on %s", html.EscapeString(name), html.EscapeString(id), scope))
}

func (x *Dispatcher) cmdUntrack(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return x.usage(ctx, req)
	}
	ok, err := x.deps.Registry.RemovePlayer(ctx, req.Args[0])
	if err != nil {
		return err
	}
	if !ok {
		return x.reply(ctx, req, "player <code>"+html.EscapeString(req.Args[0])+"</code> is not tracked")
	}
	return x.reply(ctx, req, "✅ stopped tracking <code>"+html.EscapeString(req.Args[0])+"</code>")
}

func (x *Dispatcher) cmdPlayers(ctx context.Context, req *Request) error {
	players, err := x.deps.Registry.ListPlayers(ctx)
	if err != nil {
		return err
	}
	return x.reply(ctx, req, pre(tables.Players(players, tables.Plain)))
}

func (x *Dispatcher) cmdStats(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return x.usage(ctx, req)
	}
	if x.deps.Upstream == nil {
		return errors.New("upstream not configured")
	}
	p, err := x.deps.Upstream.Player(ctx, req.Args[0])
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s</b>\n", html.EscapeString(p.Name))
	if p.TopGlobal.Valid && p.TopGlobal.Value > 0 {
		fmt.Fprintf(&b, "Global rank: #%d\n", p.TopGlobal.Value)
	}
	for i, r := range p.Ratings {
		if i >= 5 {
			break
		}
		char := r.Character
		if char == "" {
			char = puddle.CharacterName(r.CharShort)
		}
		rating := "-"
		if r.Rating.Valid {
			rating = announcer.FormatRating(r.Rating.Value) + " (" + announcer.Rank(r.Rating.Value) + ")"
		}
		fmt.Fprintf(&b, "• <b>%s</b>: %s, %d matches\n", html.EscapeString(char), rating, r.MatchCount.Value)
	}
	return x.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
}

func (x *Dispatcher) cmdTop(ctx context.Context, req *Request) error {
	if x.deps.Upstream == nil {
		return errors.New("upstream not configured")
	}
	var (
		lb  *puddle.Leaderboard
		err error
	)
	title := "🏆 Top players"
	switch len(req.Args) {
	case 0:
		lb, err = x.deps.Upstream.Top(ctx)
	case 1:
		chars, perr := parseChars(req.Args)
		if perr != nil {
			return perr
		}
		title += " · " + puddle.CharacterName(chars[0])
		lb, err = x.deps.Upstream.TopForCharacter(ctx, chars[0])
	default:
		return x.usage(ctx, req)
	}
	if err != nil {
		return err
	}
	return x.reply(ctx, req, "<b>"+html.EscapeString(title)+"</b>\n"+pre(tables.Leaderboard(*lb, topLimit, tables.Plain)))
}

func (x *Dispatcher) cmdStatus(ctx context.Context, req *Request) error {
	if x.deps.Tracker == nil {
		return errors.New("tracker not running")
	}
	sum, ok := x.deps.Tracker.LastSummary()
	return x.reply(ctx, req, pre(tables.Summary(x.deps.Tracker.State(), sum, ok, tables.Plain)))
}

func (x *Dispatcher) cmdHealth(ctx context.Context, req *Request) error {
	if x.deps.Upstream == nil {
		return errors.New("upstream not configured")
	}
	if x.deps.Upstream.Health(ctx) {
		return x.reply(ctx, req, "🟢 puddle.farm is healthy")
	}
	return x.reply(ctx, req, "🔴 puddle.farm is unhealthy")
}

func (x *Dispatcher) cmdPoll(ctx context.Context, req *Request) error {
	if x.deps.PollNow == nil {
		return errors.New("polling not available")
	}
	if !x.deps.PollNow() {
		return x.reply(ctx, req, "a poll cycle is already running")
	}
	return x.reply(ctx, req, "⏱ poll started")
}

func (x *Dispatcher) cmdReset(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 || len(req.Args) > 2 {
		return x.usage(ctx, req)
	}
	scope := ""
	if len(req.Args) == 2 {
		chars, err := parseChars(req.Args[1:])
		if err != nil {
			return err
		}
		scope = chars[0]
	}
	n, err := x.deps.Registry.ResetCursors(ctx, req.Args[0], scope)
	if err != nil {
		return err
	}
	return x.reply(ctx, req, fmt.Sprintf("✅ reset %d cursor(s) for <code>%s</code>; the next poll takes a new baseline", n, html.EscapeString(req.Args[0])))
}

func (x *Dispatcher) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("<b>puddlebot</b> tracks Guilty Gear Strive matches on puddle.farm\n\n")
	for _, c := range x.Commands() {
		fmt.Fprintf(&b, "<code>%s</code> %s\n", html.EscapeString(c.Usage), html.EscapeString(c.Description))
	}
	return x.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
}
