// Package dispatch delivers best-effort notifications to users. Delivery is
// always a post-commit side effect: callers invoke it after their transaction
// has committed and log failures instead of propagating them.
package dispatch

import (
	"context"
	"log/slog"
)

type Notification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Fanout tries each notifier in order and stops at the first success. The
// usual wiring is WebSocket first (cheap, only works for connected users),
// then the push gateway.
type Fanout struct {
	Notifiers []Notifier
	Logger    *slog.Logger
}

func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	var last error
	for _, d := range f.Notifiers {
		if err := d.Notify(ctx, n); err != nil {
			last = err
			continue
		}
		return nil
	}
	if last != nil && f.Logger != nil {
		f.Logger.Warn("notification undelivered", "user_id", n.UserID, "error", last)
	}
	return last
}

// LogNotifier is the fallback wiring for local runs without a push gateway.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.Logger.Info("notify", "user_id", n.UserID, "title", n.Title, "body", n.Body)
	return nil
}
