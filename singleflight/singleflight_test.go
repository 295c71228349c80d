package singleflight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestDo_CoalescesConcurrentCallers(t *testing.T) {
	g := New()
	var calls int64

	var eg errgroup.Group
	results := make([]int, 200)
	for i := 0; i < 200; i++ {
		i := i
		eg.Go(func() error {
			v, err := g.Do("HOT_SF", 500*time.Millisecond, func() (interface{}, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				return err
			}
			results[i] = v.(int)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("source calls = %d, want 1", got)
	}
	for i, r := range results {
		if r != 42 {
			t.Fatalf("result[%d] = %d, want 42", i, r)
		}
	}
}

func TestDo_DistinctKeysRunIndependently(t *testing.T) {
	g := New()
	var calls int64

	var wg sync.WaitGroup
	for _, key := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = g.Do(key, time.Second, func() (interface{}, error) {
				atomic.AddInt64(&calls, 1)
				return key, nil
			})
		}(key)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("source calls = %d, want 3", got)
	}
}

func TestDo_FollowerFallsBackAfterTimeout(t *testing.T) {
	g := New()
	var calls int64

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = g.Do("SLOW", time.Second, func() (interface{}, error) {
			atomic.AddInt64(&calls, 1)
			close(started)
			<-release
			return "leader", nil
		})
	}()
	<-started

	// This follower should give up after its short wait and call fn itself.
	v, err := g.Do("SLOW", 30*time.Millisecond, func() (interface{}, error) {
		atomic.AddInt64(&calls, 1)
		return "fallback", nil
	})
	close(release)

	if err != nil {
		t.Fatal(err)
	}
	if v != "fallback" {
		t.Fatalf("follower result = %v, want fallback", v)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("source calls = %d, want 2 (leader + bypassed follower)", got)
	}
}

func TestDo_PropagatesLeaderError(t *testing.T) {
	g := New()
	wantErr := errors.New("boom")

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, err := g.Do("ERR", time.Second, func() (interface{}, error) {
				return nil, wantErr
			})
			errs[i] = err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Fatalf("errs[%d] = %v, want %v", i, err, wantErr)
		}
	}
}

func TestInFlight_ClearsAfterCompletion(t *testing.T) {
	g := New()
	_, _ = g.Do("K", time.Second, func() (interface{}, error) { return nil, nil })
	if n := g.InFlight(); n != 0 {
		t.Fatalf("InFlight() = %d, want 0 after completion", n)
	}
}
