package quotecache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/coincache/quotecache/lock"
	"github.com/coincache/quotecache/metrics"
	"github.com/coincache/quotecache/refresh"
	"github.com/coincache/quotecache/singleflight"
)

// Engine is the caching strategy orchestrator: all five read paths and
// the admin write operations are methods on it. Construct with NewEngine;
// the zero value is not usable.
type Engine struct {
	cfg       Config
	store     StoreClient
	source    SourceRepository
	clock     Clock
	codec     Codec
	admission SymbolAdmission
	locker    *lock.Distributed
	sf        *singleflight.Group
	pool      *refresh.Pool
	metrics   metrics.Recorder
	logger    *zap.Logger
}

// EngineOption customizes an Engine at construction.
type EngineOption func(*Engine)

// WithClock overrides the default SystemClock; tests use this to control
// logical-expire timing without sleeping.
func WithClock(c Clock) EngineOption { return func(e *Engine) { e.clock = c } }

// WithCodec overrides the default JSONCodec.
func WithCodec(c Codec) EngineOption { return func(e *Engine) { e.codec = c } }

// WithAdmission sets the default SymbolAdmission used by Get,
// GetWithLock and GetWithSingleFlight and GetWithLogicalExpire.
// GetWithSymbolFilter always takes its predicate as a call argument
// instead (spec §4.6 Path 5).
func WithAdmission(a SymbolAdmission) EngineOption { return func(e *Engine) { e.admission = a } }

// WithLogger attaches a structured logger, threaded into the lock and
// refresh collaborators as well.
func WithLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

// WithMetricsRecorder attaches a metrics.Recorder; the default is
// metrics.NoopRecorder.
func WithMetricsRecorder(m metrics.Recorder) EngineOption { return func(e *Engine) { e.metrics = m } }

// WithRefreshPool overrides the default refresh pool (sized from
// Config.RefreshThreads). Mainly useful for tests that want a
// deterministic or inspectable pool.
func WithRefreshPool(p *refresh.Pool) EngineOption { return func(e *Engine) { e.pool = p } }

// NewEngine constructs a CacheEngine over store and source. store must
// make SetIfAbsent and CompareAndDelete atomic store-side primitives
// (spec §9's Design Notes requirement); redisstore.Client satisfies this.
func NewEngine(cfg Config, store StoreClient, source SourceRepository, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:       cfg,
		store:     store,
		source:    source,
		clock:     SystemClock{},
		codec:     JSONCodec{},
		admission: AlwaysAdmission,
		metrics:   metrics.NoopRecorder{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.locker = lock.New(store, e.logger)
	e.sf = singleflight.New()
	if e.pool == nil {
		e.pool = refresh.New(e.cfg.RefreshThreads, refresh.WithLogger(e.logger))
	}
	return e
}

// Shutdown drains the background refresh pool. Call once at application
// teardown; reads and writes issued afterward are undefined.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

func cacheKey(symbol string) string        { return "quotes:" + symbol }
func logicalCacheKey(symbol string) string { return "quotes:logical:" + symbol }
func lockKey(symbol string) string         { return "lock:quotes:" + symbol }
func logicalLockKey(symbol string) string  { return "lock:quotes:logical:" + symbol }

func outcomeLabel(found bool, err error) string {
	if err != nil {
		return "error"
	}
	if found {
		return "hit"
	}
	return "miss"
}

func ctxSleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// probeOutcome classifies a raw store probe.
type probeOutcome int

const (
	probeAbsent probeOutcome = iota
	probeHit
	probeNegative
)

// probe reads key and classifies it. A store error or a corrupt payload
// both degrade to probeAbsent (taxonomy kinds 1 and 4, spec §7) — a
// corrupt entry is evicted first so it doesn't keep tripping the same
// decode failure on every subsequent read.
func (e *Engine) probe(ctx context.Context, key string) (CacheValue, probeOutcome) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.metrics.StoreUnavailable("get")
		e.logger.Debug("store get failed, treating as absent", zap.String("key", key), zap.Error(err))
		return nil, probeAbsent
	}
	if !ok {
		return nil, probeAbsent
	}
	if raw == NullSentinel {
		return nil, probeNegative
	}
	val, err := e.codec.UnmarshalValue(raw)
	if err != nil {
		e.logger.Warn("corrupt cache entry, evicting", zap.String("key", key), zap.Error(err))
		_ = e.store.Delete(ctx, key)
		return nil, probeAbsent
	}
	return val, probeHit
}

func (e *Engine) writePositive(ctx context.Context, key string, val CacheValue, ttl time.Duration) {
	raw, err := e.codec.MarshalValue(val)
	if err != nil {
		e.logger.Warn("failed to marshal value for caching", zap.String("key", key), zap.Error(err))
		return
	}
	if err := e.store.SetTTL(ctx, key, raw, ttl); err != nil {
		e.metrics.StoreUnavailable("set")
		e.logger.Debug("failed to populate cache", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) writeNegative(ctx context.Context, key string) {
	if err := e.store.SetTTL(ctx, key, NullSentinel, e.cfg.nullTTL()); err != nil {
		e.metrics.StoreUnavailable("set")
		e.logger.Debug("failed to write negative cache entry", zap.String("key", key), zap.Error(err))
	}
}

// --- Path 1/2/5: plain cache-aside, distributed lock, bloom-gated ---
//
// All three share one flow: admit, probe, and on absence fall through to
// loadWithLock. Per spec §4.6, Path 2 ("the lock protects the miss path")
// is explicitly identical to Path 1; they differ from the caller's
// perspective only in which metrics label they report under.

func (e *Engine) getWithAdmission(ctx context.Context, symbol string, admission SymbolAdmission, strategy string) (CacheValue, error) {
	if !admission(ctx, symbol) {
		if strategy == "bloom" {
			e.metrics.BloomRejected()
		}
		e.metrics.Miss(strategy)
		return nil, ErrMiss
	}
	val, outcome := e.probe(ctx, cacheKey(symbol))
	switch outcome {
	case probeHit:
		e.metrics.Hit(strategy)
		return val, nil
	case probeNegative:
		// A cached negative entry is a store hit (no source call), even
		// though the value observed by the caller is a miss.
		e.metrics.Hit(strategy)
		return nil, ErrMiss
	default:
		return e.loadWithLock(ctx, symbol, strategy)
	}
}

// Get is the plain cache-aside read path (spec §4.6 Path 1).
func (e *Engine) Get(ctx context.Context, symbol string) (CacheValue, error) {
	return e.getWithAdmission(ctx, symbol, e.admission, "cacheaside")
}

// GetWithLock is the distributed-lock read path (spec §4.6 Path 2).
func (e *Engine) GetWithLock(ctx context.Context, symbol string) (CacheValue, error) {
	return e.getWithAdmission(ctx, symbol, e.admission, "lock")
}

// GetWithSymbolFilter is Path 1 with a caller-supplied admission
// predicate in place of the engine's default (spec §4.6 Path 5),
// typically bloom.Filter.MightContain wrapped in BloomAdmission.
func (e *Engine) GetWithSymbolFilter(ctx context.Context, symbol string, predicate SymbolAdmission) (CacheValue, error) {
	return e.getWithAdmission(ctx, symbol, predicate, "bloom")
}

// loadWithLock implements spec §4.6's miss-path coordination: the
// acquirer loads from source and populates the cache under the lock's
// protection; a contender backs off for half the lock TTL, reprobes, and
// falls back to a direct (and then repopulating) source read if the
// cache is still empty — the Open Question in spec §9 resolved in favor
// of repopulating, to restore invariant #1 for the next reader.
func (e *Engine) loadWithLock(ctx context.Context, symbol, strategy string) (CacheValue, error) {
	lease, _ := e.locker.TryAcquire(ctx, lockKey(symbol), e.cfg.lockTimeout())
	if lease != nil {
		e.metrics.LockAcquired()
		defer e.locker.Release(ctx, lease)
		return e.loadFromSourceAndCache(ctx, symbol, strategy)
	}

	e.metrics.LockContended()
	ctxSleep(ctx, e.cfg.lockBackoff())

	val, outcome := e.probe(ctx, cacheKey(symbol))
	switch outcome {
	case probeHit:
		e.metrics.Hit(strategy)
		return val, nil
	case probeNegative:
		e.metrics.Hit(strategy)
		return nil, ErrMiss
	default:
		return e.loadFromSourceAndCache(ctx, symbol, strategy)
	}
}

func (e *Engine) loadFromSourceAndCache(ctx context.Context, symbol, strategy string) (CacheValue, error) {
	e.metrics.Miss(strategy)
	val, found, err := e.source.FindBySymbol(ctx, symbol)
	e.metrics.SourceCall(outcomeLabel(found, err))
	if err != nil {
		return nil, &ErrSourceFailure{Symbol: symbol, Err: err}
	}
	if !found {
		e.writeNegative(ctx, cacheKey(symbol))
		return nil, ErrMiss
	}
	e.writePositive(ctx, cacheKey(symbol), val, e.randomJitterTTL())
	return val, nil
}

// --- Path 3: in-process deduplication ---

type sfOutcome struct {
	val   CacheValue
	found bool
}

// GetWithSingleFlight probes the cache and, on miss, coalesces concurrent
// callers for the same symbol into a single source load (spec §4.6 Path
// 3). Unlike the lock paths, the miss path here never touches the
// distributed lock — deduplication is purely in-process.
func (e *Engine) GetWithSingleFlight(ctx context.Context, symbol string) (CacheValue, error) {
	if !e.admission(ctx, symbol) {
		e.metrics.Miss("singleflight")
		return nil, ErrMiss
	}
	val, outcome := e.probe(ctx, cacheKey(symbol))
	switch outcome {
	case probeHit:
		e.metrics.Hit("singleflight")
		return val, nil
	case probeNegative:
		e.metrics.Hit("singleflight")
		return nil, ErrMiss
	}

	e.metrics.Miss("singleflight")
	// Best-effort signal for the coalesced-caller metric: racy by nature
	// (another caller may join between this check and Do), but it is
	// ambient instrumentation, never a correctness dependency.
	coalesced := e.sf.InFlight() > 0

	raw, err := e.sf.Do(cacheKey(symbol), e.cfg.singleFlightWait(), func() (interface{}, error) {
		v, found, srcErr := e.source.FindBySymbol(ctx, symbol)
		e.metrics.SourceCall(outcomeLabel(found, srcErr))
		if srcErr != nil {
			return nil, srcErr
		}
		if found {
			e.writePositive(ctx, cacheKey(symbol), v, e.randomJitterTTL())
		} else {
			e.writeNegative(ctx, cacheKey(symbol))
		}
		return sfOutcome{val: v, found: found}, nil
	})
	if coalesced {
		e.metrics.SingleFlightCoalesced()
	}
	if err != nil {
		return nil, &ErrSourceFailure{Symbol: symbol, Err: err}
	}
	out := raw.(sfOutcome)
	if !out.found {
		return nil, ErrMiss
	}
	return out.val, nil
}

// --- Path 4: logical expiry / stale-while-revalidate ---

// GetWithLogicalExpire implements the SWR state machine of spec §4.6
// Path 4: a fresh envelope is returned as-is, an absent one is loaded
// synchronously, and a stale one is returned immediately while a
// logical-lock-gated refresh is dispatched in the background.
func (e *Engine) GetWithLogicalExpire(ctx context.Context, symbol string) (CacheValue, error) {
	if !e.admission(ctx, symbol) {
		e.metrics.Miss("logical")
		return nil, ErrMiss
	}

	key := logicalCacheKey(symbol)
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.metrics.StoreUnavailable("get")
		ok = false
	}
	if !ok {
		return e.loadLogicalSync(ctx, symbol)
	}

	env, decodeErr := e.codec.UnmarshalEnvelope(raw)
	if decodeErr != nil {
		e.logger.Warn("corrupt logical entry, evicting", zap.String("key", key), zap.Error(decodeErr))
		_ = e.store.Delete(ctx, key)
		return e.loadLogicalSync(ctx, symbol)
	}

	e.metrics.Hit("logical")
	if env.IsExpired(e.clock) {
		e.dispatchLogicalRefresh(symbol)
	}
	if env.Value == nil {
		return nil, ErrMiss
	}
	return env.Value, nil
}

func (e *Engine) loadLogicalSync(ctx context.Context, symbol string) (CacheValue, error) {
	e.metrics.Miss("logical")
	val, found, err := e.source.FindBySymbol(ctx, symbol)
	e.metrics.SourceCall(outcomeLabel(found, err))
	if err != nil {
		return nil, &ErrSourceFailure{Symbol: symbol, Err: err}
	}
	env := CacheEnvelope{LogicalExpireAtMs: e.clock.NowMs() + int64(e.cfg.LogicalExpireSeconds)*1000}
	if found {
		env.Value = val
	}
	e.writeLogicalEnvelope(ctx, symbol, env)
	if !found {
		return nil, ErrMiss
	}
	return val, nil
}

func (e *Engine) writeLogicalEnvelope(ctx context.Context, symbol string, env CacheEnvelope) {
	raw, err := e.codec.MarshalEnvelope(env)
	if err != nil {
		e.logger.Warn("failed to marshal logical envelope", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if err := e.store.SetTTL(ctx, logicalCacheKey(symbol), raw, e.cfg.logicalPhysicalTTL()); err != nil {
		e.metrics.StoreUnavailable("set")
		e.logger.Debug("failed to write logical envelope", zap.String("symbol", symbol), zap.Error(err))
	}
}

// dispatchLogicalRefresh gates a background refresh behind the logical
// lock so at most one refresher runs per (key, lease window), per spec
// §4.6 Path 4 step 4. It uses context.Background() for the dispatched
// work since the task outlives the request that triggered it.
func (e *Engine) dispatchLogicalRefresh(symbol string) {
	lease, _ := e.locker.TryAcquire(context.Background(), logicalLockKey(symbol), e.cfg.lockTimeout())
	if lease == nil {
		e.metrics.LockContended()
		return
	}
	e.metrics.LockAcquired()

	accepted := e.pool.Submit(func() {
		ctx := context.Background()
		defer e.locker.Release(ctx, lease)
		val, found, err := e.source.FindBySymbol(ctx, symbol)
		e.metrics.SourceCall(outcomeLabel(found, err))
		if err != nil {
			e.logger.Warn("background refresh failed, leaving stale entry",
				zap.String("symbol", symbol), zap.Error(err))
			return
		}
		env := CacheEnvelope{LogicalExpireAtMs: e.clock.NowMs() + int64(e.cfg.LogicalExpireSeconds)*1000}
		if found {
			env.Value = val
		}
		e.writeLogicalEnvelope(ctx, symbol, env)
	})
	if accepted {
		e.metrics.RefreshDispatched()
	} else {
		e.metrics.RefreshDropped()
		e.locker.Release(context.Background(), lease)
	}
}

// --- TTL jitter ---

// randomJitterTTL implements putWithRandomJitter's formula: baseTtlSeconds
// + U{0, ttlJitterSeconds} inclusive.
func (e *Engine) randomJitterTTL() time.Duration {
	if e.cfg.TTLJitterSeconds <= 0 {
		return e.cfg.baseTTL()
	}
	offset := rand.Intn(e.cfg.TTLJitterSeconds + 1)
	return e.cfg.baseTTL() + time.Duration(offset)*time.Second
}

// hashJitterTTL implements putWithHashJitter's formula: baseTtlSeconds +
// (|stableHash(cacheKey)| mod (ttlJitterSeconds+1)). The stable hash is
// xxhash64 of the store key — any stable choice satisfies spec §4.6 as
// long as it is deterministic across runs, which xxhash64 is.
func (e *Engine) hashJitterTTL(key string) time.Duration {
	if e.cfg.TTLJitterSeconds <= 0 {
		return e.cfg.baseTTL()
	}
	h := xxhash.Sum64String(key)
	offset := h % uint64(e.cfg.TTLJitterSeconds+1)
	return e.cfg.baseTTL() + time.Duration(offset)*time.Second
}

// --- Writes / admin ---

// PutWithFixedTtl stores value under symbol with an explicit ttl and no
// jitter. Unlike the engine's internal read-path cache population (which
// swallows store faults per spec §7 taxonomy kind 1), the explicit Put*
// API reports store errors directly to the caller: these are operations
// the caller asked for by name, not incidental side effects of a read.
func (e *Engine) PutWithFixedTtl(ctx context.Context, symbol string, value CacheValue, ttl time.Duration) error {
	raw, err := e.codec.MarshalValue(value)
	if err != nil {
		return fmt.Errorf("quotecache: marshal %s: %w", symbol, err)
	}
	if err := e.store.SetTTL(ctx, cacheKey(symbol), raw, ttl); err != nil {
		return fmt.Errorf("quotecache: put %s: %w", symbol, err)
	}
	return nil
}

// PutWithRandomJitter stores value with a randomly jittered TTL.
func (e *Engine) PutWithRandomJitter(ctx context.Context, symbol string, value CacheValue) error {
	return e.PutWithFixedTtl(ctx, symbol, value, e.randomJitterTTL())
}

// PutWithHashJitter stores value with a deterministic, key-derived
// jittered TTL.
func (e *Engine) PutWithHashJitter(ctx context.Context, symbol string, value CacheValue) error {
	return e.PutWithFixedTtl(ctx, symbol, value, e.hashJitterTTL(cacheKey(symbol)))
}

// PutWithoutTtl stores value with no expiry, for push-refresh deployments
// where the cache is kept warm by an external writer rather than TTL.
func (e *Engine) PutWithoutTtl(ctx context.Context, symbol string, value CacheValue) error {
	raw, err := e.codec.MarshalValue(value)
	if err != nil {
		return fmt.Errorf("quotecache: marshal %s: %w", symbol, err)
	}
	if err := e.store.Set(ctx, cacheKey(symbol), raw); err != nil {
		return fmt.Errorf("quotecache: put %s: %w", symbol, err)
	}
	return nil
}

// PutLogical writes a fresh logical-expiry envelope for symbol, as Path 4
// step 2 does on a synchronous load. A nil value writes a negative SWR
// entry.
func (e *Engine) PutLogical(ctx context.Context, symbol string, value CacheValue) error {
	env := CacheEnvelope{Value: value, LogicalExpireAtMs: e.clock.NowMs() + int64(e.cfg.LogicalExpireSeconds)*1000}
	raw, err := e.codec.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("quotecache: marshal logical envelope %s: %w", symbol, err)
	}
	if err := e.store.SetTTL(ctx, logicalCacheKey(symbol), raw, e.cfg.logicalPhysicalTTL()); err != nil {
		return fmt.Errorf("quotecache: put logical %s: %w", symbol, err)
	}
	return nil
}

// ForceRefresh writes value into the plain cache-aside key as if it had
// just been loaded from source, without actually calling the source.
func (e *Engine) ForceRefresh(ctx context.Context, symbol string, value CacheValue) error {
	return e.PutWithRandomJitter(ctx, symbol, value)
}

// Evict removes symbol's entries from both the plain and logical
// namespaces. The next read of either kind will be a clean miss.
func (e *Engine) Evict(ctx context.Context, symbol string) error {
	if err := e.store.Delete(ctx, cacheKey(symbol)); err != nil {
		return fmt.Errorf("quotecache: evict %s: %w", symbol, err)
	}
	if err := e.store.Delete(ctx, logicalCacheKey(symbol)); err != nil {
		return fmt.Errorf("quotecache: evict logical %s: %w", symbol, err)
	}
	return nil
}

// GetTTLSeconds exposes the store's TTL for symbol's plain cache-aside
// entry, for diagnostics and tests (spec §6, -1/-2 conventions).
func (e *Engine) GetTTLSeconds(ctx context.Context, symbol string) (int64, error) {
	return e.store.GetTTLSeconds(ctx, cacheKey(symbol))
}
