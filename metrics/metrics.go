// Package metrics instruments the cache engine without influencing its
// control flow. It follows the corpus's metrics-adapter pattern (a small
// Recorder interface the core package depends on) as shown by
// IvanBrykalov-shardcache's cache.Metrics / metrics/prom split, but the
// Prometheus implementation lives in this same package, so importing
// metrics (as the engine does) also imports client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder receives ambient counters from the cache engine. Every method
// must be safe for concurrent use; implementations must never block or
// return an error, since instrumentation is never allowed to affect a
// read or write path's outcome.
type Recorder interface {
	Hit(strategy string)
	Miss(strategy string)
	SourceCall(outcome string)
	LockAcquired()
	LockContended()
	SingleFlightCoalesced()
	BloomRejected()
	RefreshDispatched()
	RefreshDropped()
	StoreUnavailable(op string)
}

// NoopRecorder discards every observation. It is the Recorder an Engine
// uses when none is supplied.
type NoopRecorder struct{}

func (NoopRecorder) Hit(string)               {}
func (NoopRecorder) Miss(string)              {}
func (NoopRecorder) SourceCall(string)        {}
func (NoopRecorder) LockAcquired()            {}
func (NoopRecorder) LockContended()           {}
func (NoopRecorder) SingleFlightCoalesced()   {}
func (NoopRecorder) BloomRejected()           {}
func (NoopRecorder) RefreshDispatched()       {}
func (NoopRecorder) RefreshDropped()          {}
func (NoopRecorder) StoreUnavailable(string)  {}

var _ Recorder = NoopRecorder{}

// PrometheusRecorder exports the same observations as Prometheus
// counters. Namespace/subsystem follow the convention in
// IvanBrykalov-shardcache/metrics/prom: both are caller-supplied so
// multiple engines in one process don't collide on metric names.
type PrometheusRecorder struct {
	hits              *prometheus.CounterVec
	misses            *prometheus.CounterVec
	sourceCalls       *prometheus.CounterVec
	lockAcquired      prometheus.Counter
	lockContended     prometheus.Counter
	singleFlightCoal  prometheus.Counter
	bloomRejected     prometheus.Counter
	refreshDispatched prometheus.Counter
	refreshDropped    prometheus.Counter
	storeUnavailable  *prometheus.CounterVec
}

// NewPrometheusRecorder registers cache metrics against reg (the default
// registerer when reg is nil) under the given namespace/subsystem.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace, subsystem string) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "hits_total", Help: "Cache hits by read strategy.",
		}, []string{"strategy"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "misses_total", Help: "Cache misses by read strategy.",
		}, []string{"strategy"}),
		sourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "source_calls_total", Help: "Source-of-truth calls by outcome.",
		}, []string{"outcome"}),
		lockAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "lock_acquired_total", Help: "Distributed lock acquisitions.",
		}),
		lockContended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "lock_contended_total", Help: "Distributed lock contentions.",
		}),
		singleFlightCoal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "singleflight_coalesced_total", Help: "Callers that received a coalesced result instead of calling the source.",
		}),
		bloomRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "bloom_rejected_total", Help: "Requests rejected by bloom-filter admission before touching the store.",
		}),
		refreshDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "refresh_dispatched_total", Help: "Background refresh tasks accepted by the worker pool.",
		}),
		refreshDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "refresh_dropped_total", Help: "Background refresh tasks dropped because the worker pool queue was full.",
		}),
		storeUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "store_unavailable_total", Help: "Store operations that failed and were swallowed, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(
		r.hits, r.misses, r.sourceCalls, r.lockAcquired, r.lockContended,
		r.singleFlightCoal, r.bloomRejected, r.refreshDispatched,
		r.refreshDropped, r.storeUnavailable,
	)
	return r
}

func (r *PrometheusRecorder) Hit(strategy string)        { r.hits.WithLabelValues(strategy).Inc() }
func (r *PrometheusRecorder) Miss(strategy string)       { r.misses.WithLabelValues(strategy).Inc() }
func (r *PrometheusRecorder) SourceCall(outcome string)  { r.sourceCalls.WithLabelValues(outcome).Inc() }
func (r *PrometheusRecorder) LockAcquired()              { r.lockAcquired.Inc() }
func (r *PrometheusRecorder) LockContended()             { r.lockContended.Inc() }
func (r *PrometheusRecorder) SingleFlightCoalesced()     { r.singleFlightCoal.Inc() }
func (r *PrometheusRecorder) BloomRejected()             { r.bloomRejected.Inc() }
func (r *PrometheusRecorder) RefreshDispatched()         { r.refreshDispatched.Inc() }
func (r *PrometheusRecorder) RefreshDropped()            { r.refreshDropped.Inc() }
func (r *PrometheusRecorder) StoreUnavailable(op string) { r.storeUnavailable.WithLabelValues(op).Inc() }

var _ Recorder = (*PrometheusRecorder)(nil)
