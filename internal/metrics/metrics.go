// Package metrics holds the Prometheus collectors for watchbot.
//
// A nil *Metrics is valid everywhere and records nothing, so components can
// be constructed without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	reg *prometheus.Registry

	WatcherTicks        *prometheus.CounterVec
	WatcherTickDuration *prometheus.HistogramVec
	WatcherRunning      *prometheus.GaugeVec

	RegistryLookups *prometheus.CounterVec
	StoreOps        *prometheus.CounterVec

	Notifications *prometheus.CounterVec
}

// New creates a fresh registry with process/Go collectors and all watchbot
// collectors registered on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		WatcherTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchbot_watcher_ticks_total",
			Help: "Watcher task invocations by result",
		}, []string{"watcher", "result"}),
		WatcherTickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchbot_watcher_tick_duration_seconds",
			Help:    "Watcher task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~40s
		}, []string{"watcher"}),
		WatcherRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchbot_watcher_running",
			Help: "1 while the watcher loop is running",
		}, []string{"watcher"}),
		RegistryLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchbot_registry_lookups_total",
			Help: "In-memory registry lookups by cache result",
		}, []string{"registry", "cache"}),
		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchbot_store_operations_total",
			Help: "Key-value store operations by result",
		}, []string{"op", "result"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchbot_notifications_total",
			Help: "Notifications by outcome",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveTick(watcher string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.WatcherTicks.WithLabelValues(watcher, result(err)).Inc()
	m.WatcherTickDuration.WithLabelValues(watcher).Observe(took.Seconds())
}

func (m *Metrics) SetRunning(watcher string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.WatcherRunning.WithLabelValues(watcher).Set(v)
}

func (m *Metrics) ObserveLookup(registry string, hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.RegistryLookups.WithLabelValues(registry, label).Inc()
}

func (m *Metrics) ObserveStoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
