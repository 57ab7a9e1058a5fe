package service

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// DefaultIdempotencyTTL is how long a submission key is remembered.
const DefaultIdempotencyTTL = 24 * time.Hour

type pendingSubmission struct{}

// Idempotency remembers the receipt of each keyed submission for a TTL so
// a retried request returns the first result instead of appending twice.
// It is safe for concurrent use.
type Idempotency struct {
	seen *cache.Cache
	ttl  time.Duration
}

// NewIdempotency creates a key store whose entries expire after ttl.
func NewIdempotency(ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Idempotency{
		seen: cache.New(ttl, 2*ttl),
		ttl:  ttl,
	}
}

// Claim reserves key. It returns the stored receipt and true when the key
// already completed. A key still in flight returns ErrConflict.
func (d *Idempotency) Claim(key string) (Receipt, bool, error) {
	if err := d.seen.Add(key, pendingSubmission{}, d.ttl); err == nil {
		return Receipt{}, false, nil
	}
	v, ok := d.seen.Get(key)
	if !ok {
		// Expired between Add and Get; try once more.
		if err := d.seen.Add(key, pendingSubmission{}, d.ttl); err == nil {
			return Receipt{}, false, nil
		}
		v, ok = d.seen.Get(key)
	}
	if r, done := v.(Receipt); ok && done {
		return r, true, nil
	}
	return Receipt{}, false, fmt.Errorf("%w: submission %q is in flight", domain.ErrConflict, key)
}

// Complete stores the receipt for key.
func (d *Idempotency) Complete(key string, r Receipt) {
	d.seen.Set(key, r, d.ttl)
}

// Abort releases key so the submission can be retried.
func (d *Idempotency) Abort(key string) {
	d.seen.Delete(key)
}

// Flush forgets every key. Used after a schema reset.
func (d *Idempotency) Flush() {
	d.seen.Flush()
}
