// Package notify forwards selected ledger events to operator channels such
// as Discord and Telegram. Delivery is best effort: a failing sender never
// affects a committed write.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to one or more Senders, filtered by event type.
// It implements domain.EventPublisher.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. Only events whose
// type appears in events are delivered; an empty list allows every type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish formats evt and sends it if its type is allowed.
func (n *Notifier) Publish(ctx context.Context, evt domain.Event) error {
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(evt.Type)))
		return nil
	}
	title, message := Format(evt)
	return n.dispatch(ctx, title, message)
}

// Format renders evt as a title and a message body.
func Format(evt domain.Event) (string, string) {
	var lines []string
	if evt.GroupID != "" {
		lines = append(lines, "group: "+evt.GroupID)
	}
	if evt.TransactionID != "" {
		lines = append(lines, "transaction: "+evt.TransactionID)
	}
	if len(evt.Usernames) > 0 {
		lines = append(lines, "users: "+strings.Join(evt.Usernames, ", "))
	}
	lines = append(lines, "at: "+evt.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	title := strings.ReplaceAll(string(evt.Type), "_", " ")
	return title, strings.Join(lines, "\n")
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Fanout publishes each event to every publisher and joins their errors.
type Fanout []domain.EventPublisher

// Publish implements domain.EventPublisher.
func (f Fanout) Publish(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Background runs each Publish of P in its own goroutine, detached from the
// caller's cancellation, so slow channels never hold up a write. Failures
// are logged.
type Background struct {
	P       domain.EventPublisher
	Timeout time.Duration
	Logger  *slog.Logger
}

// Publish implements domain.EventPublisher. It always returns nil.
func (b Background) Publish(ctx context.Context, evt domain.Event) error {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := b.P.Publish(ctx, evt); err != nil && b.Logger != nil {
			b.Logger.WarnContext(ctx, "background publish failed",
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

var (
	_ domain.EventPublisher = (*Notifier)(nil)
	_ domain.EventPublisher = Fanout(nil)
	_ domain.EventPublisher = Background{}
)
