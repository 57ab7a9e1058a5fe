// Package service implements the ledger's operations on top of the domain
// store, cache and event interfaces. Services own validation, retries,
// timeouts and post-commit events; stores own atomicity.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// idAttempts is how many fresh identifiers a create tries before surfacing
// a conflict.
const idAttempts = 3

// Options carries the settings shared by every service.
type Options struct {
	// OpTimeout bounds each operation; zero disables the bound.
	OpTimeout time.Duration
	// Now returns the current time; defaults to time.Now in UTC.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// bound applies the operation timeout to ctx.
func (o Options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.OpTimeout)
}

// wrap prefixes err with the operation name and maps an expired deadline to
// domain.ErrTimeout.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryConflict runs fn up to idAttempts times while it reports
// domain.ErrIDCollision. fn is expected to draw a fresh identifier each call.
// Other conflicts, such as a taken username, return at once.
func retryConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < idAttempts; attempt++ {
		if err = fn(); !errors.Is(err, domain.ErrIDCollision) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// publish emits evt after a commit. Failures are logged, never returned.
func publish(ctx context.Context, pub domain.EventPublisher, logger *slog.Logger, evt domain.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.WarnContext(ctx, "publish event failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// pageLimit returns 0 (no limit) when entire is set, otherwise size.
func pageLimit(entire bool, size int) int {
	if entire {
		return 0
	}
	return size
}
