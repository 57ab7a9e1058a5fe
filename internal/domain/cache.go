package domain

import (
	"context"
	"time"
)

// PortfolioCache stores resolved portfolio snapshots. Get returns
// ErrNotFound on a miss. Set never replaces a snapshot with an older one.
// Clear drops every snapshot, which a schema reset requires since portfolio
// ids restart from one.
type PortfolioCache interface {
	Get(ctx context.Context, username string) (PortfolioSnapshot, error)
	Set(ctx context.Context, snap PortfolioSnapshot) error
	Invalidate(ctx context.Context, username string) error
	Clear(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
