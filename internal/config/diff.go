package config

import (
	"reflect"
	"strings"

	logx "puddlebot/pkg/logx"
)

// Change summarizes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections.
	Sections []string
	// RestartOnly lists changed sections that only take effect after a
	// restart.
	RestartOnly []string
	// Attrs are safe log fields describing the new values. Secrets are
	// reported only as "set" booleans.
	Attrs []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restartOnly bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restartOnly {
			ch.RestartOnly = append(ch.RestartOnly, section)
		}
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		mark("telegram", true, logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""))
	} else if !reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		mark("telegram", false, logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		mark("api", true, logx.String("api.base_url", newCfg.API.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.RateLimit, newCfg.RateLimit) {
		mark("rate_limit", true, logx.Int("rate_limit.capacity", newCfg.RateLimit.Capacity))
	}
	if !reflect.DeepEqual(oldCfg.Retry, newCfg.Retry) {
		mark("retry", true, logx.Int("retry.max_attempts", newCfg.Retry.MaxAttempts))
	}
	if !reflect.DeepEqual(oldCfg.Tracker, newCfg.Tracker) {
		mark("tracker", false,
			logx.String("tracker.schedule", newCfg.Tracker.Schedule),
			logx.Int("tracker.concurrency", newCfg.Tracker.Concurrency),
			logx.Int("tracker.players", len(newCfg.Tracker.Players)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Announcer, newCfg.Announcer) {
		mark("announcer", false, logx.Int64("announcer.chat_id", newCfg.Announcer.ChatID))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", true, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		mark("ops", false,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}
	return ch
}
