package kv

import (
	"fmt"
	"strings"

	logx "watchbot/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger, opts ...Option) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log, o)
	case "badger":
		return openBadger(cfg, log, o)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDB, driver)
	}
}
