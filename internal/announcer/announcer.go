package announcer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"puddlebot/internal/notifier"
	"puddlebot/internal/tracker"
	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

// ErrNoTarget means no announcement chat is configured. The batch is refused
// so the tracker keeps its cursor.
var ErrNoTarget = errors.New("announcer: no chat target configured")

type Config struct {
	Target   kit.ChatTarget
	Timezone string
}

// Batcher is the delivery side; *notifier.Service implements it.
type Batcher interface {
	NotifyBatch(ctx context.Context, batch []notifier.Notification) error
}

// Announcer turns tracker batches into chat notifications.
type Announcer struct {
	out Batcher
	log logx.Logger

	mu     sync.RWMutex
	target kit.ChatTarget
	loc    *time.Location
}

var _ tracker.Announcer = (*Announcer)(nil)

func New(cfg Config, out Batcher, log logx.Logger) (*Announcer, error) {
	if out == nil {
		return nil, errors.New("announcer: batcher is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Announcer{out: out, log: log.With(logx.String("comp", "announcer"))}
	if err := a.Apply(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Apply swaps the target chat and timezone.
func (a *Announcer) Apply(cfg Config) error {
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.target = cfg.Target
	a.loc = loc
	a.mu.Unlock()
	return nil
}

func (a *Announcer) Announce(ctx context.Context, batch []tracker.NewMatch) error {
	if len(batch) == 0 {
		return nil
	}
	a.mu.RLock()
	target, loc := a.target, a.loc
	a.mu.RUnlock()
	if target.IsZero() {
		return ErrNoTarget
	}

	notes := make([]notifier.Notification, 0, len(batch))
	for _, m := range batch {
		notes = append(notes, notifier.Notification{
			Channel: "match",
			Key:     matchKey(m),
			Target:  target,
			Text:    Render(m, loc, true),
			Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		})
	}
	if err := a.out.NotifyBatch(ctx, notes); err != nil {
		return err
	}
	a.log.Debug("batch queued", logx.Int("matches", len(batch)), logx.Int64("chat_id", target.ChatID))
	return nil
}

func matchKey(m tracker.NewMatch) string {
	return m.Player.ID + "|" + m.Scope + "|" + m.MatchID
}

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	if strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// Stdout writes plain-text announcements to w. It is used for dry runs.
type Stdout struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location
}

var _ tracker.Announcer = (*Stdout)(nil)

func NewStdout(w io.Writer, loc *time.Location) *Stdout {
	if loc == nil {
		loc = time.UTC
	}
	return &Stdout{w: w, loc: loc}
}

func (s *Stdout) Announce(ctx context.Context, batch []tracker.NewMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.w, "%s\n\n", Render(m, s.loc, false)); err != nil {
			return err
		}
	}
	return nil
}
