package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "telegram": {"token": "t", "owner_user_ids": [1]},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "chat_id": 0, "min_level": "", "rate_per_sec": 0}},
  "api": {"base_url": "https://puddle.farm/api", "timeout": "5s"},
  "rate_limit": {"capacity": 5, "interval": "1s"},
  "retry": {"max_attempts": 3, "backoff_base": "500ms", "backoff_factor": 2, "retry_statuses": [500, 502, 503, 504]},
  "tracker": {"schedule": "2m", "players": [{"id": "123", "name": "Ky main", "characters": ["KY"]}]},
  "announcer": {"chat_id": -100},
  "storage": {"driver": "memory"}
}`

const sampleYAML = `
telegram:
  token: t
  owner_user_ids: [1]
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
  chat: {enabled: false, chat_id: 0, min_level: "", rate_per_sec: 0}
api:
  base_url: https://puddle.farm/api
  timeout: 5s
rate_limit: {capacity: 5, interval: 1s}
retry:
  max_attempts: 3
  backoff_base: 500ms
  backoff_factor: 2
  retry_statuses: [500, 502]
tracker:
  schedule: "*/30 * * * * *"
announcer: {chat_id: 1}
storage: {driver: file, path: ./state.json}
`

func TestDecodeJSON(t *testing.T) {
	cfg, err := Decode("config.json", []byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "2m", cfg.Tracker.Schedule)
	require.Len(t, cfg.Tracker.Players, 1)
	assert.Equal(t, []string{"KY"}, cfg.Tracker.Players[0].Characters)
	assert.True(t, cfg.Tracker.IsEnabled())
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []int{500, 502}, cfg.Retry.RetryStatuses)
	assert.Equal(t, "file", cfg.Storage.Driver)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"nope": 1}`))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("config.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "loud"},
		API:     APIConfig{BaseURL: "ftp://x", Timeout: "soon"},
		Retry:   RetryConfig{BackoffFactor: 0.5, RetryStatuses: []int{42}},
		Tracker: TrackerConfig{Players: []PlayerSeed{{ID: "1"}, {ID: "1"}, {ID: ""}}},
		Storage: StorageConfig{Driver: "postgres"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"logging.level", "api.base_url", "api.timeout", "retry.backoff_factor",
		"retry.retry_statuses", "duplicate", "tracker.players[2].id", "storage.dsn",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)
}

func TestSummarizeChange(t *testing.T) {
	a, err := Decode("config.json", []byte(sampleJSON))
	require.NoError(t, err)
	b, err := Decode("config.json", []byte(sampleJSON))
	require.NoError(t, err)

	assert.Empty(t, SummarizeChange(a, b).Sections)

	b.Tracker.Schedule = "5m"
	b.Storage.Driver = "sqlite"
	ch := SummarizeChange(a, b)
	assert.True(t, ch.Has("tracker"))
	assert.True(t, ch.Has("storage"))
	assert.Equal(t, []string{"storage"}, ch.RestartOnly)
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o600))

	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(sampleJSON, `"schedule": "2m"`, `"schedule": "5m"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case got := <-ch:
		assert.Equal(t, "5m", got.Tracker.Schedule)
		assert.Equal(t, "5m", m.Get().Tracker.Schedule)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not published")
	}
}
