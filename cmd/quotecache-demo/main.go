// Command quotecache-demo wires quotecache.Engine against a real Redis
// instance and an in-memory stand-in source, demonstrating three of the
// five read strategies (Get, GetWithSingleFlight and GetWithSymbolFilter)
// end to end. It is a wiring example, not a service: production
// callers embed the same constructors in their own process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coincache/quotecache"
	"github.com/coincache/quotecache/bloom"
	"github.com/coincache/quotecache/metrics"
	"github.com/coincache/quotecache/redisstore"
)

// memorySource is a trivial SourceRepository for the demo; a real
// deployment supplies its own SourceRepository over its data store.
type memorySource struct {
	data map[string]quotecache.CacheValue
}

func (s *memorySource) FindBySymbol(_ context.Context, symbol string) (quotecache.CacheValue, bool, error) {
	v, ok := s.data[symbol]
	return v, ok, nil
}

func (s *memorySource) ExistsSymbol(_ context.Context, symbol string) bool {
	_, ok := s.data[symbol]
	return ok
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("zap.NewProduction: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = rdb.Close() }()
	store := redisstore.New(rdb)

	source := &memorySource{data: map[string]quotecache.CacheValue{
		"BTC": quotecache.CacheValue(`{"price":67500}`),
		"ETH": quotecache.CacheValue(`{"price":3500}`),
	}}

	filter := bloom.BuildFrom([]string{"BTC", "ETH"}, 0.01)
	recorder := metrics.NewPrometheusRecorder(prometheus.NewRegistry(), "quotecache", "demo")

	engine := quotecache.NewEngine(
		quotecache.DefaultConfig(),
		store,
		source,
		quotecache.WithLogger(logger),
		quotecache.WithMetricsRecorder(recorder),
		quotecache.WithAdmission(quotecache.BloomAdmission(filter)),
	)
	defer engine.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	val, err := engine.Get(ctx, "BTC")
	switch {
	case errors.Is(err, quotecache.ErrMiss):
		fmt.Println("BTC: miss")
	case err != nil:
		log.Fatalf("Get(BTC): %v", err)
	default:
		fmt.Printf("BTC: %s\n", val)
	}

	val, err = engine.GetWithSingleFlight(ctx, "ETH")
	if err != nil && !errors.Is(err, quotecache.ErrMiss) {
		log.Fatalf("GetWithSingleFlight(ETH): %v", err)
	}
	fmt.Printf("ETH (singleflight): %s\n", val)

	if _, err := engine.GetWithSymbolFilter(ctx, "NOPE", quotecache.BloomAdmission(filter)); errors.Is(err, quotecache.ErrMiss) {
		fmt.Println("NOPE: rejected by bloom admission before touching source")
	}
}
