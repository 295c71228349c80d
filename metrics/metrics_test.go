package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNoopRecorder_NeverPanics(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.Hit("cacheaside")
	r.Miss("cacheaside")
	r.SourceCall("ok")
	r.LockAcquired()
	r.LockContended()
	r.SingleFlightCoalesced()
	r.BloomRejected()
	r.RefreshDispatched()
	r.RefreshDropped()
	r.StoreUnavailable("get")
}

func TestPrometheusRecorder_IncrementsLabeledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg, "quotecache", "test")

	r.Hit("singleflight")
	r.Hit("singleflight")
	r.Miss("lock")
	r.SourceCall("miss")
	r.LockAcquired()

	got := counterValue(t, reg, "quotecache_test_hits_total", "strategy", "singleflight")
	if got != 2 {
		t.Fatalf("hits_total{strategy=singleflight} = %v, want 2", got)
	}
	got = counterValue(t, reg, "quotecache_test_misses_total", "strategy", "lock")
	if got != 1 {
		t.Fatalf("misses_total{strategy=lock} = %v, want 1", got)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, labelName, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelMatches(m, labelName, labelValue) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s=%s} not found", name, labelName, labelValue)
	return 0
}

func labelMatches(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
