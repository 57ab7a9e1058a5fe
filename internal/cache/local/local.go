// Package local provides in-process implementations of the cache, lock and
// rate limit interfaces on top of go-cache, used when Redis is not
// configured.
package local

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// PortfolioCache implements domain.PortfolioCache in memory.
type PortfolioCache struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewPortfolioCache returns a cache whose entries expire after ttl; zero
// keeps them until invalidated.
func NewPortfolioCache(ttl time.Duration) *PortfolioCache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &PortfolioCache{c: cache.New(ttl, 10*time.Minute)}
}

// Get returns the snapshot for username or domain.ErrNotFound.
func (pc *PortfolioCache) Get(_ context.Context, username string) (domain.PortfolioSnapshot, error) {
	v, ok := pc.c.Get(username)
	if !ok {
		return domain.PortfolioSnapshot{}, domain.ErrNotFound
	}
	return v.(domain.PortfolioSnapshot), nil
}

// Set stores snap unless a snapshot at least as new is cached.
func (pc *PortfolioCache) Set(_ context.Context, snap domain.PortfolioSnapshot) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if v, ok := pc.c.Get(snap.Username); ok && v.(domain.PortfolioSnapshot).LastPortfolioID >= snap.LastPortfolioID {
		return nil
	}
	pc.c.SetDefault(snap.Username, snap)
	return nil
}

// Invalidate drops the user's snapshot.
func (pc *PortfolioCache) Invalidate(_ context.Context, username string) error {
	pc.c.Delete(username)
	return nil
}

// Clear drops every snapshot.
func (pc *PortfolioCache) Clear(context.Context) error {
	pc.c.Flush()
	return nil
}

// LockManager implements domain.LockManager within one process.
type LockManager struct {
	c   *cache.Cache
	seq uint64
	mu  sync.Mutex
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{c: cache.New(cache.NoExpiration, time.Minute)}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	lm.seq++
	token := lm.seq
	lm.mu.Unlock()

	if err := lm.c.Add(key, token, ttl); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if v, ok := lm.c.Get(key); ok && v.(uint64) == token {
				lm.c.Delete(key)
			}
		})
	}, nil
}

// RateLimiter implements domain.RateLimiter with fixed windows counted in
// go-cache. It is coarser than the Redis sliding window but needs no server.
type RateLimiter struct {
	c *cache.Cache
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{c: cache.New(time.Minute, 5*time.Minute)}
}

// Allow counts a request for key in the current window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Second
	}
	bucket := key + ":" + strconv.FormatInt(time.Now().UnixNano()/int64(window), 10)
	if err := rl.c.Add(bucket, 1, window); err == nil {
		return limit >= 1, nil
	}
	n, err := rl.c.IncrementInt(bucket, 1)
	if err != nil {
		// The bucket expired between Add and IncrementInt.
		rl.c.Set(bucket, 1, window)
		return limit >= 1, nil
	}
	return n <= limit, nil
}

var (
	_ domain.PortfolioCache = (*PortfolioCache)(nil)
	_ domain.LockManager    = (*LockManager)(nil)
	_ domain.RateLimiter    = (*RateLimiter)(nil)
)
