package quotecache

import (
	"context"
	"time"
)

// SourceRepository is the authoritative data source consulted on a cache
// miss. FindBySymbol may block and may fail; a failure propagates to the
// engine's caller as *ErrSourceFailure rather than being swallowed.
// ExistsSymbol is a fast admission check and must not perform source IO
// (it backs the whitelist SymbolAdmission).
type SourceRepository interface {
	FindBySymbol(ctx context.Context, symbol string) (CacheValue, bool, error)
	ExistsSymbol(ctx context.Context, symbol string) bool
}

// StoreClient is a thin typed capability over the shared Redis-compatible
// store. Implementations MUST make SetIfAbsent and CompareAndDelete
// atomic store-side primitives (e.g. SET NX and a Lua script); an
// optimistic get-check-delete violates invariant #3 in spec §3.
//
// GetTTLSeconds follows Redis TTL conventions: -1 means the key exists
// with no expiry, -2 means the key is absent.
type StoreClient interface {
	Get(ctx context.Context, key string) (raw string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	GetTTLSeconds(ctx context.Context, key string) (int64, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}
