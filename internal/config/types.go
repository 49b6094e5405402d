package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	API       APIConfig       `json:"api"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Retry     RetryConfig     `json:"retry"`
	Tracker   TrackerConfig   `json:"tracker"`
	Announcer AnnouncerConfig `json:"announcer"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors log entries at or above MinLevel to a chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// APIConfig describes the upstream statistics API. Changes need a restart.
//
// Defaults:
//   - base_url: "https://puddle.farm/api"
//   - timeout: "5s" (per request attempt)
//   - max_conns_per_host: 4
type APIConfig struct {
	BaseURL         string `json:"base_url"`
	Timeout         string `json:"timeout"`
	MaxConnsPerHost int    `json:"max_conns_per_host,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
}

// RateLimitConfig bounds outbound calls to Capacity per Interval, refilled
// in one step when the interval elapses.
type RateLimitConfig struct {
	Capacity int    `json:"capacity"`
	Interval string `json:"interval"`
}

type RetryConfig struct {
	MaxAttempts   int     `json:"max_attempts"`
	BackoffBase   string  `json:"backoff_base"`
	BackoffFactor float64 `json:"backoff_factor"`
	RetryStatuses []int   `json:"retry_statuses"`
	// Jitter is a fraction in [0,1) applied symmetrically to each delay.
	Jitter float64 `json:"jitter,omitempty"`
}

// TrackerConfig controls the poll cycle.
//
// Schedule accepts a cron expression, a Go duration ("2m") or "HH:MM".
type TrackerConfig struct {
	Enabled       *bool        `json:"enabled,omitempty"`
	Schedule      string       `json:"schedule"`
	Timezone      string       `json:"timezone,omitempty"`
	Concurrency   int          `json:"concurrency,omitempty"`
	HistoryWindow int          `json:"history_window,omitempty"`
	SeenCacheSize int          `json:"seen_cache_size,omitempty"`
	CycleTimeout  string       `json:"cycle_timeout,omitempty"`
	Characters    []string     `json:"characters,omitempty"`
	Players       []PlayerSeed `json:"players,omitempty"`
}

func (t TrackerConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

type PlayerSeed struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Characters []string `json:"characters,omitempty"`
}

// AnnouncerConfig controls where new matches go and how the delivery queue
// is paced.
type AnnouncerConfig struct {
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// StorageConfig selects the state store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/puddlebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file, sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres
	Addr        string `json:"addr,omitempty"`         // redis
	Password    string `json:"password,omitempty"`     // redis
	DB          int    `json:"db,omitempty"`           // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// OpsConfig controls the HTTP ops server (health, status, pprof).
//
// Prefer a loopback bind. A non-loopback address needs a token or an explicit
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
