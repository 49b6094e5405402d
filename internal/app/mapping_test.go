package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puddlebot/internal/config"
	"puddlebot/internal/puddle"
)

func TestClientConfigDefaults(t *testing.T) {
	pc, err := ClientConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, puddle.DefaultTimeout, pc.Timeout)
	assert.Equal(t, puddle.DefaultRetryPolicy().MaxAttempts, pc.Retry.MaxAttempts)
	require.NotNil(t, pc.Limiter)
	assert.Equal(t, 5, pc.Limiter.Available())
}

func TestClientConfigOverrides(t *testing.T) {
	pc, err := ClientConfig(&config.Config{
		API:       config.APIConfig{Timeout: "3s"},
		RateLimit: config.RateLimitConfig{Capacity: 2, Interval: "500ms"},
		Retry:     config.RetryConfig{MaxAttempts: 7, BackoffBase: "10ms", BackoffFactor: 3, RetryStatuses: []int{429}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, pc.Timeout)
	assert.Equal(t, 7, pc.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, pc.Retry.BackoffBase)
	assert.InDelta(t, 3.0, pc.Retry.BackoffFactor, 0)
	assert.Equal(t, []int{429}, pc.Retry.RetryStatuses)
	assert.Equal(t, 2, pc.Limiter.Available())
}

func TestMapStorage(t *testing.T) {
	sc, err := mapStorage(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultStorageDriver, sc.Driver)
	assert.Equal(t, config.DefaultStoragePath, sc.Path)

	sc, err = mapStorage(&config.Config{Storage: config.StorageConfig{Driver: " Memory "}})
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)

	_, err = mapStorage(&config.Config{Storage: config.StorageConfig{Driver: "file"}})
	require.Error(t, err)

	_, err = mapStorage(&config.Config{Storage: config.StorageConfig{Driver: "sqlite", BusyTimeout: "nope"}})
	require.Error(t, err)
}

func TestMapPollSchedule(t *testing.T) {
	ps, err := mapPollSchedule(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSchedule, ps.spec)
	assert.Equal(t, defaultCycleTimeout, ps.timeout)

	ps, err = mapPollSchedule(&config.Config{Tracker: config.TrackerConfig{Schedule: "*/30 * * * * *", CycleTimeout: "20s"}})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, ps.timeout)

	_, err = mapPollSchedule(&config.Config{Tracker: config.TrackerConfig{Schedule: "whenever"}})
	require.Error(t, err)
}

func TestMapOpsDefaults(t *testing.T) {
	oc, err := mapOps(&config.Config{Ops: config.OpsConfig{Enabled: true, Token: "x"}})
	require.NoError(t, err)
	assert.True(t, oc.Enabled)
	assert.Equal(t, 10*time.Second, oc.ReadTimeout)
	assert.Equal(t, 60*time.Second, oc.WriteTimeout)
	assert.Equal(t, 60*time.Second, oc.IdleTimeout)
}

func TestSeedsTrimIDs(t *testing.T) {
	seeds := Seeds(&config.Config{Tracker: config.TrackerConfig{Players: []config.PlayerSeed{{ID: " 12 ", Name: "A", Characters: []string{"KY"}}}}})
	require.Len(t, seeds, 1)
	assert.Equal(t, "12", seeds[0].ID)
	assert.Equal(t, []string{"KY"}, seeds[0].Characters)
}

func TestValidateReload(t *testing.T) {
	require.NoError(t, validateReload(&config.Config{}))

	bad := []*config.Config{
		{Tracker: config.TrackerConfig{Schedule: "every tuesday"}},
		{Tracker: config.TrackerConfig{Timezone: "Mars/Olympus"}},
		{Tracker: config.TrackerConfig{Characters: []string{"ZZ"}}},
		{Announcer: config.AnnouncerConfig{Timezone: "Nowhere/Land"}},
		{Announcer: config.AnnouncerConfig{RetryBase: "fast"}},
		{Ops: config.OpsConfig{ReadTimeout: "slow"}},
	}
	for _, cfg := range bad {
		assert.Error(t, validateReload(cfg))
	}
}
