// Package appdata holds the shared handles every watcher task receives.
package appdata

import (
	"context"

	"watchbot/internal/kv"
	"watchbot/internal/metrics"
	"watchbot/internal/registry"
	"watchbot/internal/transport"
	"watchbot/pkg/httpx"
	logx "watchbot/pkg/logx"
)

// Notifier queues outbound notifications.
type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Data is built once at startup and shared by pointer; tasks must not
// mutate it.
type Data struct {
	HTTP          *httpx.Client
	Notifier      Notifier
	Store         kv.Store // nil when storage is disabled
	Subscriptions registry.Lookup[int64, string]
	Metrics       *metrics.Metrics
	Log           logx.Logger
}
