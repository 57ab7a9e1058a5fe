package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

//go:embed scripts/snapshot_cas.lua
var snapshotCASLua string

// PortfolioCache implements domain.PortfolioCache. Each snapshot lives in a
// hash at "<prefix>:portfolio:<username>" with fields "last_id" and "data"
// (JSON). Writes go through a compare-and-set script so a slow writer can
// never replace a snapshot with an older one.
type PortfolioCache struct {
	client *Client
	rdb    *redis.Client
	cas    *redis.Script
	ttl    time.Duration
}

// NewPortfolioCache creates a PortfolioCache backed by the given Client.
// A zero ttl keeps snapshots until invalidated.
func NewPortfolioCache(c *Client, ttl time.Duration) *PortfolioCache {
	return &PortfolioCache{
		client: c,
		rdb:    c.Underlying(),
		cas:    redis.NewScript(snapshotCASLua),
		ttl:    ttl,
	}
}

func (pc *PortfolioCache) key(username string) string {
	return pc.client.Key("portfolio", username)
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (pc *PortfolioCache) Get(ctx context.Context, username string) (domain.PortfolioSnapshot, error) {
	data, err := pc.rdb.HGet(ctx, pc.key(username), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("redis: get portfolio %s: %w", username, err)
	}
	var snap domain.PortfolioSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("redis: unmarshal portfolio %s: %w", username, err)
	}
	return snap, nil
}

// Set stores snap unless the cache already holds a snapshot at least as new.
func (pc *PortfolioCache) Set(ctx context.Context, snap domain.PortfolioSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal portfolio %s: %w", snap.Username, err)
	}
	err = pc.cas.Run(ctx, pc.rdb,
		[]string{pc.key(snap.Username)},
		strconv.FormatInt(snap.LastPortfolioID, 10),
		data,
		pc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set portfolio %s: %w", snap.Username, err)
	}
	return nil
}

// Invalidate drops the user's snapshot.
func (pc *PortfolioCache) Invalidate(ctx context.Context, username string) error {
	if err := pc.rdb.Del(ctx, pc.key(username)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate portfolio %s: %w", username, err)
	}
	return nil
}

// Clear deletes every cached snapshot under the prefix.
func (pc *PortfolioCache) Clear(ctx context.Context) error {
	iter := pc.rdb.Scan(ctx, 0, pc.key("*"), 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := pc.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis: clear portfolios: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan portfolios: %w", err)
	}
	if len(batch) > 0 {
		if err := pc.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis: clear portfolios: %w", err)
		}
	}
	return nil
}

var _ domain.PortfolioCache = (*PortfolioCache)(nil)
