package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows every.
type delayedFirst struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (s delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

// spreadOffset derives a stable offset in [0, min(every, 30s)) from name,
// so two bots polling the same upstream do not fire in lockstep.
func spreadOffset(every time.Duration, name string) time.Duration {
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(limit))
}

func intervalWithSpread(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	off := spreadOffset(every, name)
	return delayedFirst{every: cron.Every(every), first: now.Add(every + off)}, off
}
