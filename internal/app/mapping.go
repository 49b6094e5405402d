package app

import (
	"fmt"
	"strings"
	"time"

	"puddlebot/internal/announcer"
	"puddlebot/internal/config"
	"puddlebot/internal/notifier"
	"puddlebot/internal/ops"
	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	"puddlebot/internal/task/scheduler"
	"puddlebot/internal/tracker"
	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

const defaultCycleTimeout = 90 * time.Second

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     cfg.Logging.Chat.ChatID,
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// ClientConfig maps the api, rate_limit and retry sections.
func ClientConfig(cfg *config.Config) (puddle.Config, error) {
	timeout, err := config.ParseDurationOrDefault("api.timeout", cfg.API.Timeout, puddle.DefaultTimeout)
	if err != nil {
		return puddle.Config{}, err
	}
	interval, err := config.ParseDurationOrDefault("rate_limit.interval", cfg.RateLimit.Interval, time.Second)
	if err != nil {
		return puddle.Config{}, err
	}
	policy := puddle.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if policy.BackoffBase, err = config.ParseDurationOrDefault("retry.backoff_base", cfg.Retry.BackoffBase, policy.BackoffBase); err != nil {
		return puddle.Config{}, err
	}
	if cfg.Retry.BackoffFactor > 0 {
		policy.BackoffFactor = cfg.Retry.BackoffFactor
	}
	if len(cfg.Retry.RetryStatuses) > 0 {
		policy.RetryStatuses = append([]int(nil), cfg.Retry.RetryStatuses...)
	}
	policy.Jitter = cfg.Retry.Jitter

	capacity := cfg.RateLimit.Capacity
	if capacity <= 0 {
		capacity = 5
	}
	return puddle.Config{
		BaseURL:         cfg.API.BaseURL,
		Timeout:         timeout,
		MaxConnsPerHost: cfg.API.MaxConnsPerHost,
		UserAgent:       cfg.API.UserAgent,
		Retry:           policy,
		Limiter:         puddle.NewRateLimiter(capacity, interval),
	}, nil
}

// NewClient builds the upstream client from cfg.
func NewClient(cfg *config.Config, log logx.Logger) (*puddle.Client, error) {
	pc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	return puddle.New(pc, log.With(logx.String("comp", "puddle")))
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if driver == "" {
		driver = config.DefaultStorageDriver
		if path == "" {
			path = config.DefaultStoragePath
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         sc.DSN,
		Addr:        sc.Addr,
		Password:    sc.Password,
		DB:          sc.DB,
		KeyPrefix:   sc.KeyPrefix,
		BusyTimeout: busy,
	}
	if (driver == "file" || driver == "sqlite") && path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	return out, nil
}

// OpenStore opens the configured store and upserts the configured players.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage (%s): %w", sc.Driver, err)
	}
	return st, nil
}

// Seeds returns the players listed in the tracker section.
func Seeds(cfg *config.Config) []storage.Player {
	out := make([]storage.Player, 0, len(cfg.Tracker.Players))
	for _, p := range cfg.Tracker.Players {
		out = append(out, storage.Player{ID: strings.TrimSpace(p.ID), Name: p.Name, Characters: p.Characters})
	}
	return out
}

// TrackerConfig maps the tracker section.
func TrackerConfig(cfg *config.Config) tracker.Config {
	return tracker.Config{
		Concurrency:   cfg.Tracker.Concurrency,
		HistoryWindow: cfg.Tracker.HistoryWindow,
		SeenCacheSize: cfg.Tracker.SeenCacheSize,
		Characters:    append([]string(nil), cfg.Tracker.Characters...),
	}
}

type pollSchedule struct {
	spec    string
	timeout time.Duration
}

func mapPollSchedule(cfg *config.Config) (pollSchedule, error) {
	raw := strings.TrimSpace(cfg.Tracker.Schedule)
	if raw == "" {
		raw = config.DefaultSchedule
	}
	if _, err := scheduler.ParseSchedule(raw); err != nil {
		return pollSchedule{}, fmt.Errorf("tracker.schedule: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("tracker.cycle_timeout", cfg.Tracker.CycleTimeout, defaultCycleTimeout)
	if err != nil {
		return pollSchedule{}, err
	}
	return pollSchedule{spec: raw, timeout: timeout}, nil
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Tracker.IsEnabled(), Timezone: cfg.Tracker.Timezone}
}

// NotifierConfig maps the delivery pacing of the announcer section.
func NotifierConfig(cfg *config.Config) (notifier.Config, error) {
	ac := cfg.Announcer
	base, err := config.ParseDurationOrDefault("announcer.retry_base", ac.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("announcer.retry_max_delay", ac.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("announcer.dedup_window", ac.DedupWindow, 10*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       true,
		Workers:       ac.Workers,
		QueueSize:     ac.QueueSize,
		RatePerSec:    ac.RatePerSec,
		RetryMax:      ac.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		DedupWindow:   dedup,
	}, nil
}

// AnnouncerConfig maps the announcement target.
func AnnouncerConfig(cfg *config.Config) announcer.Config {
	return announcer.Config{
		Target:   kit.ChatTarget{ChatID: cfg.Announcer.ChatID, ThreadID: cfg.Announcer.ThreadID},
		Timezone: cfg.Announcer.Timezone,
	}
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profile and trace stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validateReload rejects a reload that would break a live component.
func validateReload(cfg *config.Config) error {
	if _, err := mapPollSchedule(cfg); err != nil {
		return err
	}
	if _, err := NotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOps(cfg); err != nil {
		return err
	}
	if _, err := announcer.LoadLocation(cfg.Announcer.Timezone); err != nil {
		return fmt.Errorf("announcer.timezone: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Tracker.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("tracker.timezone: %w", err)
		}
	}
	for i, c := range cfg.Tracker.Characters {
		if _, ok := puddle.NormalizeCharacter(c); !ok {
			return fmt.Errorf("tracker.characters[%d]: unknown character %q", i, c)
		}
	}
	return nil
}
