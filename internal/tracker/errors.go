package tracker

import (
	"errors"
	"fmt"
)

// ErrCycleRunning is returned when a cycle is requested while one is in
// flight. The request is dropped, not queued.
var ErrCycleRunning = errors.New("tracker: cycle already running")

// PlayerPollError is one player's (or one player scope's) failure within a
// cycle. The cursor of the failed scope is left untouched.
type PlayerPollError struct {
	PlayerID   string
	PlayerName string
	Scope      string
	Err        error
}

func (e *PlayerPollError) Error() string {
	who := e.PlayerID
	if e.PlayerName != "" {
		who = fmt.Sprintf("%s (%s)", e.PlayerName, e.PlayerID)
	}
	if e.Scope != "" {
		return fmt.Sprintf("poll %s [%s]: %v", who, e.Scope, e.Err)
	}
	return fmt.Sprintf("poll %s: %v", who, e.Err)
}

func (e *PlayerPollError) Unwrap() error { return e.Err }
