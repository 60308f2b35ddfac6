package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"watchbot/internal/transport"
	logx "watchbot/pkg/logx"
)

const helpText = `watchbot commands:
/subscribe <event>... - receive notifications for events
/events - list known events
/status - watcher status
/help - this message`

// commandTimeout bounds one command, reply included.
const commandTimeout = 15 * time.Second

// parseCommand splits "/cmd@bot arg1 arg2" into ("cmd", [arg1 arg2]).
// ok is false for plain text.
func parseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (a *App) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			a.handleMessage(ctx, up.Message)
		}
	}
}

func (a *App) handleMessage(ctx context.Context, msg *transport.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply, err := a.runCommand(ctx, msg.ChatID, name, args)
	if err != nil {
		a.log.Warn("command failed", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		reply = "error: " + err.Error()
	}
	if reply == "" {
		return
	}
	to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := a.adapter.SendText(ctx, to, reply, nil); err != nil {
		a.log.Warn("reply failed", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

func (a *App) runCommand(ctx context.Context, chatID int64, name string, args []string) (string, error) {
	switch name {
	case "start", "help":
		return helpText, nil
	case "subscribe":
		if len(args) == 0 {
			return "usage: /subscribe <event>...", nil
		}
		if err := a.subs.Subscribe(ctx, chatID, args...); err != nil {
			return "", err
		}
		a.log.Info("chat subscribed", logx.Int64("chat_id", chatID), logx.Strs("events", args))
		return "subscribed to " + strings.Join(args, ", "), nil
	case "events":
		events, err := a.subs.Events(ctx)
		if err != nil {
			return "", err
		}
		if len(events) == 0 {
			return "no events registered", nil
		}
		return "events:\n" + strings.Join(events, "\n"), nil
	case "status":
		return a.statusText(), nil
	default:
		return "unknown command /" + name + ", try /help", nil
	}
}

func (a *App) statusText() string {
	var b strings.Builder
	if len(a.watchers) == 0 {
		b.WriteString("no watchers configured\n")
	}
	rows := make([]string, 0, len(a.watchers))
	for _, w := range a.watchers {
		state := "stopped"
		if w.Running() {
			state = "running"
		}
		rows = append(rows, fmt.Sprintf("%s [%s] %s ticks=%d", w.Name(), w.Schedule(), state, w.Ticks()))
	}
	sort.Strings(rows)
	for _, r := range rows {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	if a.notif != nil {
		fmt.Fprintf(&b, "recent notifications: %d", len(a.notif.Snapshot()))
	}
	return strings.TrimRight(b.String(), "\n")
}
