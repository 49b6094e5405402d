package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"puddlebot/internal/eventbus"
	logx "puddlebot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Paris"
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	state         *runState
}

// runState tracks one schedule's in-flight run and its history.
type runState struct {
	mu       sync.Mutex
	running  bool
	runs     uint64
	skipped  uint64
	failures uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

func (r *runState) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.skipped++
		return false
	}
	r.running = true
	return true
}

func (r *runState) release(started time.Time, took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.runs++
	r.lastRun = started
	r.lastTook = took
	r.lastErr = ""
	if err != nil {
		r.failures++
		r.lastErr = err.Error()
	}
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Base context for job runs; cancelled by Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// Entry describes one registered schedule.
type Entry struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next,omitzero"`
	Prev     time.Time     `json:"prev,omitzero"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Skipped  uint64        `json:"skipped"`
	Failures uint64        `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	LastTook time.Duration `json:"last_took"`
	LastErr  string        `json:"last_error,omitempty"`
}

// SkippedEvent is published when a fire is dropped because the previous run
// is still in flight.
type SkippedEvent struct {
	Name    string
	Skipped uint64
}

type FailedEvent struct {
	Name  string
	Error string
}

const (
	EventSkipped = "scheduler.skipped"
	EventFailed  = "scheduler.failed"
)
