package scheduler

import "time"

type Snapshot struct {
	Enabled   bool    `json:"enabled"`
	Running   bool    `json:"running"`
	Timezone  string  `json:"timezone"`
	Schedules []Entry `json:"schedules"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	out := Snapshot{Enabled: s.cfg.Enabled, Running: c != nil, Timezone: s.cfg.Timezone}
	if out.Timezone == "" {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		out.Timezone = loc.String()
	}
	s.mu.Unlock()

	out.Schedules = make([]Entry, 0, len(defs))
	for _, d := range defs {
		e := Entry{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			ce := c.Entry(d.entryID)
			e.Next = ce.Next
			e.Prev = ce.Prev
		}
		d.state.mu.Lock()
		e.Running = d.state.running
		e.Runs = d.state.runs
		e.Skipped = d.state.skipped
		e.Failures = d.state.failures
		e.LastRun = d.state.lastRun
		e.LastTook = d.state.lastTook
		e.LastErr = d.state.lastErr
		d.state.mu.Unlock()
		out.Schedules = append(out.Schedules, e)
	}
	return out
}

// Entry returns the snapshot entry for name.
func (s *Service) Entry(name string) (Entry, bool) {
	for _, e := range s.Snapshot().Schedules {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
