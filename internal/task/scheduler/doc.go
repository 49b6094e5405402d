// Package scheduler fires named jobs on cron expressions or fixed intervals.
//
// Each schedule runs its job inline with a timeout. A fire that arrives while
// the previous run of the same schedule is still in flight is dropped and
// counted, never queued.
package scheduler
