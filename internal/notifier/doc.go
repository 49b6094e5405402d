// Package notifier delivers chat messages asynchronously.
//
// Messages are queued and sent by a small worker pool under a supervisor.
// Sends are paced with a token bucket and retried with jittered exponential
// backoff. A short in-memory dedup window suppresses repeats of the same key.
//
// NotifyBatch accepts a whole batch or nothing, which lets callers treat an
// accepted batch as committed.
package notifier
