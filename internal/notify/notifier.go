// Package notify sends operator alerts about pool lifecycle events to chat
// channels. Alerts are filtered by event type so operators only hear about
// the transitions they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Sender delivers one alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered anywhere.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// NotifyPool formats an alert about pool and delivers it if event is allowed.
// Each detail entry becomes one line of the message.
func (n *Notifier) NotifyPool(ctx context.Context, event string, pool domain.Pool, details ...string) error {
	if !n.Enabled(event) {
		return nil
	}
	title := fmt.Sprintf("%s %s", pool.TokenPair, strings.ReplaceAll(event, "_", " "))

	var b strings.Builder
	fmt.Fprintf(&b, "pool %s\n", pool.ID.Hex())
	fmt.Fprintf(&b, "target %s", FormatPrice(pool.TargetPrice))
	if pool.SnapshotTaken {
		fmt.Fprintf(&b, ", snapshot %s, %s wins", FormatPrice(pool.SnapshotPrice), pool.Winner)
	}
	for _, d := range details {
		b.WriteByte('\n')
		b.WriteString(d)
	}
	return n.dispatch(ctx, title, b.String())
}

// NotifyAll sends a free-form alert regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if n == nil {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing channel does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// FormatPrice renders an 8-decimal fixed point price as "3200.00000000".
func FormatPrice(p int64) string {
	sign := ""
	if p < 0 {
		sign = "-"
		p = -p
	}
	const scale = 100_000_000
	return fmt.Sprintf("%s%d.%08d", sign, p/scale, p%scale)
}
