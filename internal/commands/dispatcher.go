package commands

import (
	"context"
	"errors"
	"html"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "puddlebot/internal/runtime/supervisor"
	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

const (
	defaultWorkers = 2
	jobQueueCap    = 64
	defaultTimeout = 20 * time.Second
)

// Dispatcher reads chat updates and runs matching commands on a bounded
// worker pool.
type Dispatcher struct {
	deps Deps
	log  logx.Logger

	mu     sync.RWMutex
	owners []int64
	byName map[string]*Command
	cmds   []Command

	jobs chan func()
}

func New(d Deps) (*Dispatcher, error) {
	if d.Adapter == nil {
		return nil, errors.New("commands: adapter is required")
	}
	if d.Registry == nil {
		return nil, errors.New("commands: registry is required")
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Workers <= 0 {
		d.Workers = defaultWorkers
	}
	x := &Dispatcher{
		deps:   d,
		log:    d.Logger.With(logx.String("comp", "commands")),
		owners: slices.Clone(d.Owners),
		jobs:   make(chan func(), jobQueueCap),
	}
	x.register(x.builtin())
	return x, nil
}

// SetOwners replaces the owner list. Safe during hot reload.
func (x *Dispatcher) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	x.mu.Lock()
	x.owners = cp
	x.mu.Unlock()
}

func (x *Dispatcher) isOwner(id int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Contains(x.owners, id)
}

func (x *Dispatcher) register(cmds []Command) {
	byName := make(map[string]*Command, len(cmds)*2)
	for i := range cmds {
		c := &cmds[i]
		byName[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
	}
	x.mu.Lock()
	x.cmds = cmds
	x.byName = byName
	x.mu.Unlock()
}

func (x *Dispatcher) lookup(name string) (Command, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.byName[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Commands returns the registered commands in menu order.
func (x *Dispatcher) Commands() []Command {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.cmds)
}

// Run consumes updates until ctx is done or the channel closes.
func (x *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(x.log),
		rtsup.WithCancelOnError(false),
	)
	for i := range x.deps.Workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-x.jobs:
					x.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	if up, ok := x.deps.Adapter.(kit.CommandMenuUpdater); ok {
		menu := x.menu()
		sup.Go("telegram.menu.update", func(c context.Context) error {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				x.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}
	x.log.Info("command dispatcher started", logx.Int("workers", x.deps.Workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		x.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			x.route(ctx, up)
		}
	}
}

func (x *Dispatcher) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			x.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (x *Dispatcher) tryEnqueue(fn func()) bool {
	select {
	case x.jobs <- fn:
		return true
	default:
		return false
	}
}

func (x *Dispatcher) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	parts := tokenize(strings.TrimSpace(msg.Text))
	if len(parts) == 0 {
		return
	}
	name, ok := commandWord(parts[0])
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := x.lookup(name)
	if !ok {
		// Unknown commands from non-owners stay silent.
		if x.isOwner(msg.FromID) {
			x.send(ctx, chat, "unknown command. try /help")
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !x.isOwner(msg.FromID) {
		x.send(ctx, chat, "unauthorized")
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Logger:  x.log.With(logx.String("rid", rid), logx.String("cmd", cmd.Name)),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(x.log),
		MWRequestLog(x.log),
		MWTimeout(timeout),
	)
	if !x.tryEnqueue(func() {
		if err := final(ctx, req); err != nil && ctx.Err() == nil {
			x.send(ctx, chat, "❌ "+html.EscapeString(err.Error()))
		}
	}) {
		x.send(ctx, chat, "busy, try again")
	}
}

func (x *Dispatcher) send(ctx context.Context, to kit.ChatTarget, text string) {
	_, err := x.deps.Adapter.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil && ctx.Err() == nil {
		x.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (x *Dispatcher) menu() []kit.BotCommand {
	cmds := x.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		n := sanitizeMenuName(c.Name)
		if n == "" {
			continue
		}
		out = append(out, kit.BotCommand{Command: n, Description: c.Description})
	}
	return out
}
