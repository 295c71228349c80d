// Package lock implements a token-based distributed lease over a shared
// Redis-compatible store: setIfAbsent to acquire, a server-side
// compare-and-delete to release. It follows the corpus's own
// DynamoDB-backed DistributedLock (conditional PutItem to acquire,
// conditional DeleteItem to release, zap for structured logging),
// transposed onto a Redis-style store: SetIfAbsent-with-ttl stands in for
// the conditional PutItem, and CompareAndDelete stands in for the
// conditional DeleteItem.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the minimal capability Distributed needs: an atomic
// set-if-absent-with-ttl for acquisition and an atomic compare-and-delete
// for release. It is declared locally (rather than importing the
// top-level quotecache.StoreClient) so this package has no dependency on
// the engine package — any StoreClient structurally satisfies Store.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// Lease describes a held lock: the key it protects, the random token
// proving ownership, and when the store will reclaim it if never
// released.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Distributed acquires and releases leases against a Store. Lock TTL
// bounds the maximum wedge time from a crashed holder; there is no lease
// renewal, so callers must tolerate another worker taking over after TTL
// (spec §4.4, §5).
type Distributed struct {
	store  Store
	logger *zap.Logger
}

// New constructs a Distributed lock over store. A nil logger defaults to
// a no-op logger.
func New(store Store, logger *zap.Logger) *Distributed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributed{store: store, logger: logger}
}

// TryAcquire attempts to take the lease for key with the given ttl. It
// returns (nil, nil) — not an error — when the lock is already held by
// someone else, since lock contention is an expected, non-exceptional
// outcome (spec §7 taxonomy kind 3).
func (d *Distributed) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := d.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		d.logger.Debug("lock acquire: store unavailable, treating as not acquired",
			zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	if !ok {
		d.logger.Debug("lock contended", zap.String("key", key))
		return nil, nil
	}

	d.logger.Debug("lock acquired",
		zap.String("key", key), zap.Duration("ttl", ttl))
	return &Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Release deletes the lease only if the stored value still equals the
// lease's token, so one holder's release can never clear another
// holder's (later) lease on the same key (invariant #3, spec §3). It is
// idempotent and best-effort: a store error is swallowed (spec §7,
// taxonomy kind 1) since a lock release failing only means the lease
// will be reclaimed at its TTL instead of immediately.
func (d *Distributed) Release(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	deleted, err := d.store.CompareAndDelete(ctx, lease.Key, lease.Token)
	if err != nil {
		d.logger.Debug("lock release: store unavailable, leaving lease to expire",
			zap.String("key", lease.Key), zap.Error(err))
		return
	}
	if !deleted {
		d.logger.Debug("lock release: token mismatch, another holder owns it now",
			zap.String("key", lease.Key))
	}
}
