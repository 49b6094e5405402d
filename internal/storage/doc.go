// Package storage persists the tracked player registry and the per-player,
// per-character diff cursors.
package storage
