// Package redisstore implements quotecache.StoreClient against a
// Redis-compatible server via github.com/redis/go-redis/v9. It follows
// the corpus's own Redis cache-provider shape (a thin struct wrapping
// *redis.Client, atomic primitives built from SET NX / Lua EVAL rather
// than optimistic get-then-write, redis.Nil mapped to an "absent" return
// instead of an error) as shown in the pack's userclouds-authzsdk Redis
// cache provider.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript atomically deletes key only if its current value
// equals expected. A plain GET-then-DEL from the client would race with a
// concurrent SetIfAbsent from a new lock holder; EVAL runs server-side and
// is indivisible, which is what invariant #3 (no blind lock deletes)
// requires.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Client adapts *redis.Client to quotecache.StoreClient.
type Client struct {
	rdb  *redis.Client
	cadS *redis.Script
}

// New wraps an existing *redis.Client. The caller owns the client's
// lifecycle (construction, auth, pooling, Close).
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, cadS: redis.NewScript(compareAndDeleteScript)}
}

// Get returns the raw string stored at key. A missing key is reported as
// ok=false with a nil error, matching Redis's own GET semantics rather
// than surfacing redis.Nil as an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value at key with no expiry.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// SetTTL stores value at key with the given expiry.
func (c *Client) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetIfAbsent is Redis SET key value NX with ttl as the expiry (go-redis
// sends PX for sub-second or non-whole-second ttls, EX otherwise): it sets
// the key only if it did not already exist, atomically.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes key unconditionally. Deleting an absent key is not an
// error.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// GetTTLSeconds follows Redis TTL semantics directly: -1 for a key with
// no expiry, -2 for an absent key. go-redis's TTL command already
// surfaces those two sentinels as a raw Duration(-1)/Duration(-2) rather
// than -1s/-2s, so they must be matched before the generic conversion.
func (c *Client) GetTTLSeconds(ctx context.Context, key string) (int64, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -1:
		return -1, nil
	case -2:
		return -2, nil
	default:
		return int64(d / time.Second), nil
	}
}

// CompareAndDelete runs compareAndDeleteScript server-side so the
// check-and-delete is indivisible from the store's point of view.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := c.cadS.Run(ctx, c.rdb, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
