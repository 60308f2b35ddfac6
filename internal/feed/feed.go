// Package feed is the watcher task that polls a JSON feed and notifies the
// registrants of each new item's event.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"watchbot/internal/transport"
	"watchbot/internal/watcher"
	"watchbot/pkg/httpx"
	logx "watchbot/pkg/logx"
)

// Item is one entry of the polled document.
type Item struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Document is the body returned by a feed URL.
type Document struct {
	Items []Item `json:"items"`
}

// State is shared by every tick of one feed watcher. Ticks never overlap,
// so fields touched only by Poll need no locking.
type State struct {
	URL         string
	Priority    int
	SkipBacklog bool
	Seen        SeenSet

	primed bool
}

// Poll fetches the feed once and fans every unseen item out to the
// subscribers of its event. Items whose notifications could not all be
// queued stay unseen and are retried on the next tick.
func Poll(ctx context.Context, w watcher.Watcher[State]) error {
	st := w.State
	if st == nil || st.Seen == nil {
		return errors.New("feed state is not initialized")
	}
	if w.Data == nil || w.Data.Subscriptions == nil {
		return errors.New("feed watcher has no subscriptions")
	}
	log := w.Logger()

	client := w.Data.HTTP
	if client == nil {
		client = httpx.New()
	}
	doc, err := httpx.Fetch[Document](ctx, client, st.URL)
	if err != nil {
		return fmt.Errorf("poll feed: %w", err)
	}

	if st.SkipBacklog && !st.primed {
		ids := make([]string, 0, len(doc.Items))
		for _, it := range doc.Items {
			if it.ID != "" {
				ids = append(ids, it.ID)
			}
		}
		if err := st.Seen.Mark(ctx, ids...); err != nil {
			return fmt.Errorf("prime seen set: %w", err)
		}
		st.primed = true
		log.Info("feed backlog skipped", logx.Int("items", len(ids)))
		return nil
	}

	var errs []error
	delivered := 0
	for _, it := range doc.Items {
		if it.ID == "" || it.Event == "" {
			log.Debug("feed item without id or event ignored", logx.String("title", it.Title))
			continue
		}
		seen, err := st.Seen.Seen(ctx, it.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %s: check seen: %w", it.ID, err))
			continue
		}
		if seen {
			continue
		}
		n, err := dispatch(ctx, w, it)
		delivered += n
		if err != nil {
			errs = append(errs, fmt.Errorf("item %s: %w", it.ID, err))
			continue
		}
		if err := st.Seen.Mark(ctx, it.ID); err != nil {
			errs = append(errs, fmt.Errorf("item %s: mark seen: %w", it.ID, err))
		}
	}
	if delivered > 0 {
		log.Info("feed items dispatched", logx.Int("notifications", delivered))
	}
	return errors.Join(errs...)
}

func dispatch(ctx context.Context, w watcher.Watcher[State], it Item) (int, error) {
	subs, err := w.Data.Subscriptions.Subscribers(ctx, it.Event)
	if err != nil {
		return 0, fmt.Errorf("lookup subscribers of %s: %w", it.Event, err)
	}
	text := FormatItem(it)
	var errs []error
	sent := 0
	for _, chatID := range subs {
		to := transport.ChatTarget{ChatID: chatID}
		if w.Data.Notifier != nil {
			err = w.Data.Notifier.Notify(ctx, transport.Notification{
				Channel:  "telegram",
				Priority: w.State.Priority,
				Target:   to,
				Text:     text,
			})
		} else if w.Bot != nil {
			_, err = w.Bot.SendText(ctx, to, text, nil)
		} else {
			err = errors.New("no notifier or bot configured")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %d: %w", chatID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// FormatItem renders the notification text for it.
func FormatItem(it Item) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(it.Event)
	b.WriteString("] ")
	if t := strings.TrimSpace(it.Title); t != "" {
		b.WriteString(t)
	} else {
		b.WriteString(it.ID)
	}
	if u := strings.TrimSpace(it.URL); u != "" {
		b.WriteString("\n")
		b.WriteString(u)
	}
	return b.String()
}
