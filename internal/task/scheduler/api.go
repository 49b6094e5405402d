package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"puddlebot/internal/eventbus"
	logx "puddlebot/pkg/logx"
)

// AddSchedule parses spec and registers a cron or interval schedule. An
// existing schedule with the same name is replaced; its run statistics are
// kept.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "*/30 * * * * *", "@hourly", "@every 2m"
//   - Interval duration: "2m", "1h30m"
//   - Interval HH:MM: "00:05" (5 minutes), "01:30" (1 hour 30 minutes)
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	cronSpec := ps.Cron
	if ps.Kind == SpecInterval {
		cronSpec = "@every " + ps.Every.String()
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(cronSpec); err != nil {
			return fmt.Errorf("invalid cron %q: %w", cronSpec, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := &runState{}
	if old := s.findLocked(name); old != nil {
		state = old.state
	}
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: cronSpec, timeout: timeout, job: job, state: state})
	if s.c == nil {
		// Registered on Start.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", cronSpec), logx.Err(err))
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", cronSpec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(cronSpec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// RunNow fires name immediately through the same drop-if-running gate as a
// timed fire. It reports false when the schedule is unknown or busy.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	d := s.findLocked(strings.TrimSpace(name))
	if d == nil {
		s.mu.Unlock()
		return false
	}
	def := *d
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if !def.state.tryAcquire() {
		s.reportSkip(def)
		return false
	}
	go s.execute(ctx, def)
	return true
}

func (s *Service) findLocked(name string) *scheduleDef {
	for i := range s.defs {
		if s.defs[i].name == name {
			return &s.defs[i]
		}
	}
	return nil
}

func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	ctx := s.runCtx
	job := cron.FuncJob(func() {
		if ctx == nil || ctx.Err() != nil {
			return
		}
		if !def.state.tryAcquire() {
			s.reportSkip(def)
			return
		}
		s.execute(ctx, def)
	})

	// Interval schedules get a per-name first-run offset.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			sched, jitter := intervalWithSpread(every, time.Now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// execute runs one acquired fire.
func (s *Service) execute(parent context.Context, d scheduleDef) {
	ctx := parent
	cancel := context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, d.timeout)
	}
	start := time.Now()
	err := runJob(ctx, d.job)
	cancel()
	took := time.Since(start)
	d.state.release(start, took, err)

	if err != nil {
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		s.publish(EventFailed, FailedEvent{Name: d.name, Error: err.Error()})
		return
	}
	s.log.Debug("scheduled job finished", logx.String("name", d.name), logx.Duration("took", took))
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Service) reportSkip(d scheduleDef) {
	d.state.mu.Lock()
	n := d.state.skipped
	d.state.mu.Unlock()
	s.log.Debug("schedule fire skipped; previous run in flight", logx.String("name", d.name), logx.Uint64("skipped", n))
	s.publish(EventSkipped, SkippedEvent{Name: d.name, Skipped: n})
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists the next n fire times at debug level.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
