package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"watchbot/internal/appdata"
	"watchbot/internal/kv"
	"watchbot/internal/notifier"
	"watchbot/internal/registry"
	"watchbot/internal/transport"
	"watchbot/internal/watcher"
	"watchbot/pkg/httpx"
	logx "watchbot/pkg/logx"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  []transport.Notification
	fail map[int64]error
}

func (r *recordingNotifier) Notify(_ context.Context, n transport.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[n.Target.ChatID]; err != nil {
		return err
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recordingNotifier) chats() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Target.ChatID)
	}
	return out
}

func feedServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(*body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFeedWatcher(t *testing.T, url string, seen SeenSet, skip bool, n appdata.Notifier) watcher.Watcher[State] {
	t.Helper()
	reg := registry.New[int64, string](nil)
	reg.Register(100, "go", "rust")
	reg.Register(200, "go")
	subs := registry.NewShared(reg)
	data := &appdata.Data{
		HTTP:          httpx.New(),
		Notifier:      n,
		Subscriptions: subs,
		Log:           logx.Nop(),
	}
	w, err := watcher.New(watcher.Config{Name: "hn"}, nil, data, State{URL: url, Seen: seen, SkipBacklog: skip}, logx.Nop())
	if err != nil {
		t.Fatalf("watcher.New: %v", err)
	}
	return *w
}

func TestPollNotifiesSubscribersOnce(t *testing.T) {
	body := `{"items":[
		{"event":"go","id":"1","title":"Go 1.26","url":"https://go.dev"},
		{"event":"rust","id":"2","title":"Rust 2.0"},
		{"event":"zig","id":"3","title":"nobody cares"}
	]}`
	srv := feedServer(t, &body)
	rn := &recordingNotifier{}
	w := newFeedWatcher(t, srv.URL, NewMemorySeen(0), false, rn)

	if err := Poll(context.Background(), w); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got, want := rn.chats(), []int64{100, 200, 100}; !slices.Equal(got, want) {
		t.Fatalf("notified chats = %v, want %v", got, want)
	}
	if !strings.Contains(rn.got[0].Text, "[go] Go 1.26") || !strings.Contains(rn.got[0].Text, "https://go.dev") {
		t.Fatalf("text = %q", rn.got[0].Text)
	}

	if err := Poll(context.Background(), w); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(rn.chats()) != 3 {
		t.Fatalf("items were delivered twice: %v", rn.chats())
	}
}

func TestPollSkipBacklog(t *testing.T) {
	body := `{"items":[{"event":"go","id":"old"}]}`
	srv := feedServer(t, &body)
	rn := &recordingNotifier{}
	w := newFeedWatcher(t, srv.URL, NewMemorySeen(0), true, rn)

	if err := Poll(context.Background(), w); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(rn.chats()) != 0 {
		t.Fatalf("backlog was delivered: %v", rn.chats())
	}

	body = `{"items":[{"event":"go","id":"new"},{"event":"go","id":"old"}]}`
	if err := Poll(context.Background(), w); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := rn.chats(); !slices.Equal(got, []int64{100, 200}) {
		t.Fatalf("chats = %v, want only the new item", got)
	}
}

func TestPollKeepsFailedItemsUnseen(t *testing.T) {
	body := `{"items":[{"event":"go","id":"1"},{"event":"rust","id":"2"}]}`
	srv := feedServer(t, &body)
	full := errors.New("queue full")
	rn := &recordingNotifier{fail: map[int64]error{200: full}}
	seen := NewMemorySeen(0)
	w := newFeedWatcher(t, srv.URL, seen, false, rn)

	err := Poll(context.Background(), w)
	if !errors.Is(err, full) {
		t.Fatalf("Poll err = %v, want joined queue error", err)
	}
	if ok, _ := seen.Seen(context.Background(), "1"); ok {
		t.Fatalf("item 1 marked seen despite failed delivery")
	}
	if ok, _ := seen.Seen(context.Background(), "2"); !ok {
		t.Fatalf("item 2 should be seen")
	}
}

// gatedSender blocks every send until open is closed.
type gatedSender struct {
	mu      sync.Mutex
	chats   []int64
	entered chan struct{}
	open    chan struct{}
}

func (g *gatedSender) SendText(ctx context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	g.entered <- struct{}{}
	select {
	case <-g.open:
	case <-ctx.Done():
		return transport.MessageRef{}, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chats = append(g.chats, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (g *gatedSender) sent() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.chats...)
}

func TestPollRedeliversAfterQueueFull(t *testing.T) {
	gs := &gatedSender{entered: make(chan struct{}, 16), open: make(chan struct{})}
	ns := notifier.New(notifier.Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   2,
		RatePerSec:  1000,
		DedupWindow: time.Minute,
	}, gs, logx.Nop(), nil)
	ctx := context.Background()
	ns.Start(ctx)

	filler := func(chat int64) transport.Notification {
		return transport.Notification{Channel: "telegram", Target: transport.ChatTarget{ChatID: chat}, Text: "filler"}
	}
	if err := ns.Notify(ctx, filler(1)); err != nil {
		t.Fatalf("filler 1: %v", err)
	}
	select {
	case <-gs.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up the first filler")
	}
	for _, chat := range []int64{2, 3} {
		if err := ns.Notify(ctx, filler(chat)); err != nil {
			t.Fatalf("filler %d: %v", chat, err)
		}
	}

	body := `{"items":[{"event":"go","id":"1","title":"Go 1.26"}]}`
	srv := feedServer(t, &body)
	seen := NewMemorySeen(0)
	w := newFeedWatcher(t, srv.URL, seen, false, ns)

	if err := Poll(ctx, w); !errors.Is(err, notifier.ErrQueueFull) {
		t.Fatalf("first Poll = %v, want ErrQueueFull", err)
	}
	if ok, _ := seen.Seen(ctx, "1"); ok {
		t.Fatalf("item marked seen while the queue was full")
	}

	close(gs.open)
	deadline := time.Now().Add(2 * time.Second)
	for len(gs.sent()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(gs.sent()); n != 3 {
		t.Fatalf("fillers sent = %d, want 3", n)
	}

	if err := Poll(ctx, w); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ns.Stop(stopCtx)

	if got := gs.sent(); !slices.Equal(got[3:], []int64{100, 200}) {
		t.Fatalf("sent chats = %v, want the item delivered to 100 and 200", got)
	}
	if ok, _ := seen.Seen(ctx, "1"); !ok {
		t.Fatalf("delivered item should be seen")
	}
}

func TestPollFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	w := newFeedWatcher(t, srv.URL, NewMemorySeen(0), false, &recordingNotifier{})

	err := Poll(context.Background(), w)
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Poll err = %v, want StatusError", err)
	}
}

func TestKVSeen(t *testing.T) {
	st, err := kv.Open(kv.Config{Driver: "badger", Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	a := NewKVSeen(st, "hn")
	if err := a.Mark(ctx, "1", "2"); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	b := NewKVSeen(st, "hn")
	if ok, err := b.Seen(ctx, "2"); err != nil || !ok {
		t.Fatalf("Seen(2) from second handle = %v, %v", ok, err)
	}
	if ok, _ := NewKVSeen(st, "other").Seen(ctx, "1"); ok {
		t.Fatalf("seen sets leak across watchers")
	}
}

func TestFormatItem(t *testing.T) {
	if got := FormatItem(Item{Event: "go", ID: "42"}); got != "[go] 42" {
		t.Fatalf("FormatItem = %q", got)
	}
}
