// Package telegram implements the chat boundary on telebot long polling.
package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "puddlebot/internal/runtime/supervisor"
	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	stopGrace          = 2 * time.Second
	menuMaxCommands    = 100
	menuMaxDescription = 256
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter forwards slash commands from Telegram and sends HTML messages.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while polling
	out chan<- kit.Update

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

// New validates the token against the Bot API (getMe).
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: b}
	b.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := commandUpdate(c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	return a, nil
}

// commandUpdate converts a text message that starts with '/' into an
// update. Everything else is ignored.
func commandUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return kit.Update{}, false
	}
	return kit.Update{Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         text,
	}}, true
}

func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start launches long polling under its own supervisor. A second call while
// running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	a.sup, a.out = sup, out
	a.mu.Unlock()

	sup.Go0("telegram.drops", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("commands dropped (dispatcher busy)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
			select {
			case <-c.Done():
				return
			case <-t.C:
			}
		}
	})
	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns when the poller fails; run it again with backoff.
	sup.GoRestart0("telegram.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop cancels polling and waits at most stopGrace for the long-poll
// request to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && wctx.Err() != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// SendText sends text, split into Telegram-sized chunks. The reference
// points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	chat := &tele.Chat{ID: to.ChatID}
	for i, chunk := range splitText(text, textLimit, o.ParseMode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             o.ParseMode,
			DisableWebPagePreview: o.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

// menu converts cmds to the API shape and hashes the result.
func menu(cmds []kit.BotCommand) ([]tele.Command, uint64) {
	h := fnv.New64a()
	out := make([]tele.Command, 0, min(len(cmds), menuMaxCommands))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		if len(out) == menuMaxCommands {
			break
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if r := []rune(d); len(r) > menuMaxDescription {
			d = string(r[:menuMaxDescription])
		}
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	return out, h.Sum64()
}

// UpdateMenuCommands publishes the command menu when it differs from the
// last one published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	out, sum := menu(cmds)
	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
