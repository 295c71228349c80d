// Package quotecache implements a read-through caching facade for keyed
// records (quotes, addressed by symbol) backed by a shared Redis-compatible
// store, with a pluggable authoritative source.
//
// Design Choices:
//   - The store (StoreClient) is the single cache tier and the only
//     cross-process synchronization point; there is no process-local L1.
//   - Five read strategies share one engine: plain cache-aside, distributed
//     lock, in-process singleflight, logical-expire/stale-while-revalidate,
//     and bloom-gated admission. Callers pick the strategy that matches
//     their tolerance for stampede, tail latency and staleness.
//   - CacheEngine never silently swallows a source failure; it swallows
//     store faults instead, degrading to cache-miss or direct-source-read
//     behavior. See errors.go.
//
// Performance Characteristics:
//   - Plain/lock/bloom paths: one store round trip on hit; on a cold miss
//     for the lock holder, four (probe, lock acquire, write, lock release)
//     plus a source call.
//   - SingleFlight path: one store round trip on hit; on a miss, one
//     source call and one cache write per burst of concurrent callers
//     within a process, plus one more for each follower that outwaits
//     SingleFlightWaitMs and calls the source itself.
//   - Logical-expire path: one store round trip on a fresh hit; a stale
//     read adds a logical-lock attempt and dispatches a background refresh
//     instead of blocking the caller; an absent entry is loaded from the
//     source synchronously and written back.
package quotecache
