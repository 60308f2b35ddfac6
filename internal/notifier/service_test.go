package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"watchbot/internal/transport"
	logx "watchbot/pkg/logx"
)

type fakeSender struct {
	mu      sync.Mutex
	failN   int
	calls   int
	sent    []string
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return transport.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   8,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func note(chat int64, text string) transport.Notification {
	return transport.Notification{Channel: "telegram", Target: transport.ChatTarget{ChatID: chat}, Text: text}
}

func stopWithin(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyDeliversAndDrainsOnStop(t *testing.T) {
	fs := &fakeSender{}
	s := New(testConfig(), fs, logx.Nop(), nil)
	s.Start(context.Background())

	for _, txt := range []string{"a", "b", "c"} {
		if err := s.Notify(context.Background(), note(1, txt)); err != nil {
			t.Fatalf("Notify(%s): %v", txt, err)
		}
	}
	stopWithin(t, s)

	_, sent := fs.snapshot()
	if len(sent) != 3 {
		t.Fatalf("sent = %v, want 3 messages", sent)
	}
	if len(s.Snapshot()) != 3 {
		t.Fatalf("history = %d entries", len(s.Snapshot()))
	}
	if err := s.Notify(context.Background(), note(1, "late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after stop = %v, want ErrStopped", err)
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	fs := &fakeSender{failN: 2}
	s := New(testConfig(), fs, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), note(1, "x")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopWithin(t, s)

	calls, sent := fs.snapshot()
	if calls != 3 || len(sent) != 1 {
		t.Fatalf("calls=%d sent=%v", calls, sent)
	}
}

func TestNotifyGivesUpAfterRetryMax(t *testing.T) {
	fs := &fakeSender{failN: 100}
	s := New(testConfig(), fs, logx.Nop(), nil)
	s.Start(context.Background())
	_ = s.Notify(context.Background(), note(1, "x"))
	stopWithin(t, s)

	if calls, sent := fs.snapshot(); calls != 3 || len(sent) != 0 {
		t.Fatalf("calls=%d sent=%v, want 3 attempts and nothing sent", calls, sent)
	}
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	fs := &fakeSender{}
	s := New(testConfig(), fs, logx.Nop(), nil)
	s.Start(context.Background())
	_ = s.Notify(context.Background(), note(1, "same"))
	_ = s.Notify(context.Background(), note(1, "same"))
	_ = s.Notify(context.Background(), note(2, "same"))
	stopWithin(t, s)

	if _, sent := fs.snapshot(); len(sent) != 2 {
		t.Fatalf("sent = %v, want 2 (one per chat)", sent)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	fs := &fakeSender{entered: make(chan struct{}, 4), block: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	s := New(cfg, fs, logx.Nop(), nil)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), note(1, "1")); err != nil {
		t.Fatalf("Notify 1: %v", err)
	}
	select {
	case <-fs.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up the first job")
	}
	if err := s.Notify(context.Background(), note(1, "2")); err != nil {
		t.Fatalf("Notify 2: %v", err)
	}
	if err := s.Notify(context.Background(), note(1, "3")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Notify 3 = %v, want ErrQueueFull", err)
	}
	close(fs.block)
	stopWithin(t, s)
}

func waitSent(t *testing.T, fs *fakeSender, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, sent := fs.snapshot(); len(sent) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, sent := fs.snapshot()
	t.Fatalf("sent = %v, want %d messages", sent, n)
}

func TestNotifyRetryAfterQueueFullIsDelivered(t *testing.T) {
	fs := &fakeSender{entered: make(chan struct{}, 8), block: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, fs, logx.Nop(), nil)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), note(1, "x1")); err != nil {
		t.Fatalf("Notify x1: %v", err)
	}
	select {
	case <-fs.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up x1")
	}
	if err := s.Notify(context.Background(), note(1, "x2")); err != nil {
		t.Fatalf("Notify x2: %v", err)
	}
	if err := s.Notify(context.Background(), note(1, "x3")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("first x3 = %v, want ErrQueueFull", err)
	}

	close(fs.block)
	waitSent(t, fs, 2)

	if err := s.Notify(context.Background(), note(1, "x3")); err != nil {
		t.Fatalf("retried x3: %v", err)
	}
	waitSent(t, fs, 3)
	stopWithin(t, s)

	if _, sent := fs.snapshot(); len(sent) != 3 || sent[2] != "x3" {
		t.Fatalf("sent = %v, want [x1 x2 x3]", sent)
	}
}

func TestNotifyAfterGivingUpIsNotDeduped(t *testing.T) {
	fs := &fakeSender{failN: 3}
	cfg := testConfig()
	cfg.RetryMax = 2
	s := New(cfg, fs, logx.Nop(), nil)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), note(1, "again")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	// once the first job is given up, the same text goes through again
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, sent := fs.snapshot(); len(sent) > 0 {
			break
		}
		if err := s.Notify(context.Background(), note(1, "again")); err != nil {
			t.Fatalf("repeat Notify: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitSent(t, fs, 1)
	stopWithin(t, s)
}

func TestNotifyDisabled(t *testing.T) {
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), note(1, "x")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify = %v, want ErrDisabled", err)
	}
	s.Stop(context.Background())
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt, limit := range map[int]time.Duration{1: 130 * time.Millisecond, 2: 260 * time.Millisecond, 10: time.Second} {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > limit {
			t.Fatalf("retryDelay(%d) = %v, want (0, %v]", attempt, d, limit)
		}
	}
}

func TestPrefixForPriority(t *testing.T) {
	if prefixForPriority(0) != "" || prefixForPriority(9) == "" {
		t.Fatalf("unexpected priority prefixes")
	}
}
