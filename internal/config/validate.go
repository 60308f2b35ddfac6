package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"watchbot/internal/watcher"
)

const (
	BackendMemory    = "memory"
	BackendPersisted = "persisted"

	DefaultRegistryName = "watchbot"
	DefaultMetricsAddr  = "127.0.0.1:9090"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID == 0 {
		add("logging.telegram.enabled requires telegram.log_chat_id")
	}

	driver := cfg.StorageDriver()
	switch driver {
	case "none", "sqlite", "sqlite3", "badger":
	default:
		add("storage.driver: unknown driver %q", driver)
	}
	if driver != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
		add("storage.path is required for driver %q", driver)
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Registry.BackendName() {
	case BackendMemory:
	case BackendPersisted:
		if driver == "none" {
			add("registry.backend %q requires storage", BackendPersisted)
		}
	default:
		add("registry.backend: unknown backend %q", cfg.Registry.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Registry.EventCodec)) {
	case "", "string", "json", "cbor":
	default:
		add("registry.event_codec: unknown codec %q", cfg.Registry.EventCodec)
	}
	if strings.Contains(cfg.Registry.Name, ":") {
		add("registry.name %q must not contain ':'", cfg.Registry.Name)
	}
	if cfg.Registry.CacheSize < 0 {
		add("registry.cache_size must be >= 0")
	}
	if _, err := cfg.Registry.Relation(); err != nil {
		errs = append(errs, err)
	}

	seen := map[string]bool{}
	for i, w := range cfg.Watchers {
		path := fmt.Sprintf("watchers[%d]", i)
		name := strings.TrimSpace(w.Name)
		if name == "" {
			add("%s.name is required", path)
		} else if seen[name] {
			add("%s.name %q is duplicated", path, name)
		}
		seen[name] = true
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			add("%s.url must be an http(s) URL", path)
		}
		if _, err := watcher.ParseSchedule(w.Schedule); err != nil {
			add("%s.schedule: %w", path, err)
		}
		if tz := strings.TrimSpace(w.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("%s.timezone: %w", path, err)
			}
		}
		if _, err := ParseDurationField(path+".timeout", w.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if n := cfg.Notifier; n != nil {
		for field, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.send_timeout":    n.SendTimeout,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(field, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if m := cfg.Metrics; m.Enabled {
		addr := m.ListenAddr()
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add("metrics.addr: %w", err)
		} else if !isLoopback(host) && strings.TrimSpace(m.Token) == "" && !m.AllowInsecure {
			add("metrics.addr %q is not loopback; set metrics.token or metrics.allow_insecure", addr)
		}
		for field, raw := range map[string]string{
			"metrics.read_timeout":  m.ReadTimeout,
			"metrics.write_timeout": m.WriteTimeout,
			"metrics.idle_timeout":  m.IdleTimeout,
		} {
			if _, err := ParseDurationField(field, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StorageDriver is the normalized driver name; "none" when storage is off.
func (c *Config) StorageDriver() string {
	if c.Storage == nil {
		return "none"
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return "none"
	}
	return d
}

func (r RegistryConfig) BackendName() string {
	b := strings.ToLower(strings.TrimSpace(r.Backend))
	if b == "" {
		return BackendMemory
	}
	return b
}

func (r RegistryConfig) RegistryName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return DefaultRegistryName
}

// Relation converts the configured subscriptions to chat id -> events.
func (r RegistryConfig) Relation() (map[int64][]string, error) {
	out := make(map[int64][]string, len(r.Subscriptions))
	for key, events := range r.Subscriptions {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("registry.subscriptions: chat id %q is not an integer", key)
		}
		for _, ev := range events {
			if strings.TrimSpace(ev) == "" {
				return nil, fmt.Errorf("registry.subscriptions[%s]: empty event", key)
			}
		}
		out[id] = append(out[id], events...)
	}
	return out, nil
}

func (m MetricsConfig) ListenAddr() string {
	if a := strings.TrimSpace(m.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
