package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Registry RegistryConfig  `json:"registry"`
	Watchers []WatcherConfig `json:"watchers"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout, default "10s".
	PollTimeout string `json:"poll_timeout"`
	// LogChatID receives log lines when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the kv backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./watchbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite" | "badger" | "none"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RegistryConfig selects where subscriptions live and seeds them.
//
// Subscriptions maps a chat id (as a string key) to its events.
type RegistryConfig struct {
	Backend       string              `json:"backend"` // "memory" (default) | "persisted"
	Name          string              `json:"name,omitempty"`
	CacheSize     int                 `json:"cache_size,omitempty"`
	EventCodec    string              `json:"event_codec,omitempty"` // "string" (default) | "json" | "cbor"
	Subscriptions map[string][]string `json:"subscriptions,omitempty"`
}

type WatcherConfig struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Schedule    string `json:"schedule,omitempty"` // default "60s"
	Timezone    string `json:"timezone,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	SkipBacklog bool   `json:"skip_backlog,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// MetricsConfig controls the HTTP server exposing /metrics and, optionally,
// /debug/pprof/.
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // 0 keeps /debug/pprof/profile usable
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
