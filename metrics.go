package stepup

import (
	"time"

	"github.com/MrEthical07/stepup/internal/metrics"
)

// MetricID names one engine counter or histogram.
type MetricID uint16

const (
	MetricFlowStarted MetricID = iota
	MetricFlowFulfilled
	MetricFactorSuccess
	MetricFactorFailure
	MetricFactorOutOfOrder
	MetricRateLimited
	MetricCodeIssued
	MetricDeviceTrusted
	MetricGrantIssued
	MetricGrantRejected
	// MetricVerifyLatency is the only histogram: time spent inside a
	// FactorVerifier.
	MetricVerifyLatency
	metricIDCount
)

// histogramIDs maps the MetricIDs that carry a histogram to registry slots.
var histogramIDs = map[MetricID]int{
	MetricVerifyLatency: 0,
}

// Metrics is a lock-free set of engine counters. A nil or disabled Metrics
// ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	registry      *metrics.Registry
}

// MetricsSnapshot is a point-in-time copy of every counter and, when latency
// histograms are enabled, the verify latency buckets.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
		registry:      metrics.NewRegistry(int(metricIDCount), len(histogramIDs)),
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.registry.Inc(int(id))
}

// Observe records d into id's histogram. Ids without a histogram are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	slot, ok := histogramIDs[id]
	if !ok {
		return
	}
	m.registry.Observe(slot, d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.registry.Value(int(id))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(histogramIDs)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.registry.Value(int(id))
	}
	if m.enableLatency {
		for id, slot := range histogramIDs {
			s.Histograms[id] = m.registry.Buckets(slot)
		}
	}
	return s
}
