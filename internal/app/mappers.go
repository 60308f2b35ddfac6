package app

import (
	"strings"
	"time"

	"watchbot/internal/config"
	"watchbot/internal/kv"
	"watchbot/internal/notifier"
	"watchbot/internal/observability/httpsrv"
	"watchbot/internal/registry"
	"watchbot/internal/watcher"
	logx "watchbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (kv.Config, error) {
	if cfg.Storage == nil {
		return kv.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return kv.Config{}, err
	}
	return kv.Config{
		Driver:      cfg.StorageDriver(),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

// mapNotifierConfig enables the notifier with defaults when the section is
// omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, RetryMax: 3, DedupWindow: time.Minute}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMax,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) (httpsrv.Config, error) {
	m := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", m.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpsrv.Config{}, err
	}
	write, err := config.ParseDurationField("metrics.write_timeout", m.WriteTimeout)
	if err != nil {
		return httpsrv.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", m.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpsrv.Config{}, err
	}
	return httpsrv.Config{
		Enabled:       m.Enabled,
		Addr:          m.ListenAddr(),
		Pprof:         m.Pprof,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapWatcherConfig(w config.WatcherConfig) (watcher.Config, error) {
	timeout, err := config.ParseDurationField("watchers."+w.Name+".timeout", w.Timeout)
	if err != nil {
		return watcher.Config{}, err
	}
	return watcher.Config{
		Name:     strings.TrimSpace(w.Name),
		Schedule: w.Schedule,
		Timezone: w.Timezone,
		Timeout:  timeout,
	}, nil
}

func eventCodec(name string) registry.Codec[string] {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return registry.JSONCodec[string]{}
	case "cbor":
		return registry.CBORCodec[string]{}
	default:
		return registry.StringCodec{}
	}
}
