package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "puddlebot/pkg/logx"
)

const (
	DefaultBaseURL       = "https://puddle.farm/api"
	DefaultAPITimeout    = "5s"
	DefaultSchedule      = "2m"
	DefaultOpsAddr       = "127.0.0.1:6060"
	DefaultStorageDriver = "sqlite"
	DefaultStoragePath   = "./data/puddlebot.db"
)

// Validate checks values that can be judged without touching the network
// or the filesystem. It collects every problem instead of stopping at the
// first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Chat.Enabled && !logx.ValidLevel(cfg.Logging.Chat.MinLevel) {
		add("logging.chat.min_level: unknown level %q", cfg.Logging.Chat.MinLevel)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if base := strings.TrimSpace(cfg.API.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("api.base_url: must be an absolute http(s) URL, got %q", base)
		}
	}
	if _, err := ParseDurationField("api.timeout", cfg.API.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.API.MaxConnsPerHost < 0 {
		add("api.max_conns_per_host: must be >= 0")
	}

	if cfg.RateLimit.Capacity < 0 {
		add("rate_limit.capacity: must be >= 0")
	}
	if _, err := ParseDurationField("rate_limit.interval", cfg.RateLimit.Interval); err != nil {
		errs = append(errs, err)
	}

	if cfg.Retry.MaxAttempts < 0 {
		add("retry.max_attempts: must be >= 0")
	}
	if cfg.Retry.BackoffFactor != 0 && cfg.Retry.BackoffFactor < 1 {
		add("retry.backoff_factor: must be >= 1")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		add("retry.jitter: must be in [0,1)")
	}
	for _, st := range cfg.Retry.RetryStatuses {
		if st < 100 || st > 599 {
			add("retry.retry_statuses: invalid HTTP status %d", st)
		}
	}
	if _, err := ParseDurationField("retry.backoff_base", cfg.Retry.BackoffBase); err != nil {
		errs = append(errs, err)
	}

	if cfg.Tracker.Concurrency < 0 || cfg.Tracker.HistoryWindow < 0 || cfg.Tracker.SeenCacheSize < 0 {
		add("tracker: concurrency, history_window and seen_cache_size must be >= 0")
	}
	if _, err := ParseDurationField("tracker.cycle_timeout", cfg.Tracker.CycleTimeout); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]bool{}
	for i, p := range cfg.Tracker.Players {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			add("tracker.players[%d].id: required", i)
			continue
		}
		if seen[id] {
			add("tracker.players[%d].id: duplicate %q", i, id)
		}
		seen[id] = true
	}

	for _, f := range []struct{ path, raw string }{
		{"announcer.retry_base", cfg.Announcer.RetryBase},
		{"announcer.retry_max_delay", cfg.Announcer.RetryMaxDelay},
		{"announcer.dedup_window", cfg.Announcer.DedupWindow},
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "file", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn: required for postgres")
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Addr) == "" {
			add("storage.addr: required for redis")
		}
	default:
		add("storage.driver: unknown driver %q", d)
	}

	return errors.Join(errs...)
}

// ParseDurationField parses an optional Go duration string. Empty means
// zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
