package config

import (
	"reflect"
	"strings"

	logx "watchbot/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections.
	Sections []string
	// Fields are safe to log; tokens are never included.
	Fields []logx.Field
	// RestartRequired lists changed sections that only take effect on restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs. Logging, notifier tuning and the
// metrics server apply live; everything else needs a restart.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, live bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if !live {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID {
		mark("telegram", false,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", true,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", false, logx.String("storage.driver", newCfg.StorageDriver()))
	}
	if !reflect.DeepEqual(oldCfg.Registry, newCfg.Registry) {
		mark("registry", false,
			logx.String("registry.backend", newCfg.Registry.BackendName()),
			logx.Int("registry.subscriptions", len(newCfg.Registry.Subscriptions)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Watchers, newCfg.Watchers) {
		names := make([]string, 0, len(newCfg.Watchers))
		for _, w := range newCfg.Watchers {
			names = append(names, w.Name)
		}
		mark("watchers", false, logx.Strs("watchers", names))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		mark("notifier", true)
	}
	if oldCfg.Metrics.Enabled != newCfg.Metrics.Enabled ||
		oldCfg.Metrics.ListenAddr() != newCfg.Metrics.ListenAddr() ||
		oldCfg.Metrics.Pprof != newCfg.Metrics.Pprof ||
		oldCfg.Metrics.Token != newCfg.Metrics.Token ||
		oldCfg.Metrics.AllowInsecure != newCfg.Metrics.AllowInsecure ||
		oldCfg.Metrics.ReadTimeout != newCfg.Metrics.ReadTimeout ||
		oldCfg.Metrics.WriteTimeout != newCfg.Metrics.WriteTimeout ||
		oldCfg.Metrics.IdleTimeout != newCfg.Metrics.IdleTimeout {
		mark("metrics", true,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.ListenAddr()),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}
	return ch
}
