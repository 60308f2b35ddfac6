package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTick(t *testing.T) {
	m := New()
	m.ObserveTick("feeds", 10*time.Millisecond, nil)
	m.ObserveTick("feeds", 10*time.Millisecond, errors.New("x"))
	m.ObserveTick("feeds", 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(m.WatcherTicks.WithLabelValues("feeds", "ok")); got != 2 {
		t.Fatalf("ok ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WatcherTicks.WithLabelValues("feeds", "error")); got != 1 {
		t.Fatalf("error ticks = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick("x", time.Second, nil)
	m.SetRunning("x", true)
	m.ObserveLookup("r", true)
	m.ObserveStoreOp("op", nil)
	m.ObserveNotification("sent")
	if m.Registry() != nil {
		t.Fatal("nil metrics should have nil registry")
	}
}

func TestLookupLabels(t *testing.T) {
	m := New()
	m.ObserveLookup("main", true)
	m.ObserveLookup("main", false)
	m.ObserveLookup("main", false)
	if got := testutil.ToFloat64(m.RegistryLookups.WithLabelValues("main", "miss")); got != 2 {
		t.Fatalf("misses = %v, want 2", got)
	}
}
