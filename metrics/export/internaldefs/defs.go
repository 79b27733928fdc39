package internaldefs

import (
	"github.com/MrEthical07/stepup"
)

type CounterDef struct {
	ID   stepup.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   stepup.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order.
var CounterDefs = []CounterDef{
	{ID: stepup.MetricFlowStarted, Name: "stepup_flow_started_total", Help: "Step-up flows started."},
	{ID: stepup.MetricFlowFulfilled, Name: "stepup_flow_fulfilled_total", Help: "Step-up flows with every required factor satisfied."},
	{ID: stepup.MetricFactorSuccess, Name: "stepup_factor_success_total", Help: "Accepted factor proofs."},
	{ID: stepup.MetricFactorFailure, Name: "stepup_factor_failure_total", Help: "Rejected factor proofs."},
	{ID: stepup.MetricFactorOutOfOrder, Name: "stepup_factor_out_of_order_total", Help: "Factors presented before their turn."},
	{ID: stepup.MetricRateLimited, Name: "stepup_rate_limited_total", Help: "Proof or code requests denied by a token bucket."},
	{ID: stepup.MetricCodeIssued, Name: "stepup_code_issued_total", Help: "One-time codes delivered."},
	{ID: stepup.MetricDeviceTrusted, Name: "stepup_device_trusted_total", Help: "Devices remembered after a fulfilled flow."},
	{ID: stepup.MetricGrantIssued, Name: "stepup_grant_issued_total", Help: "Step-up grants minted."},
	{ID: stepup.MetricGrantRejected, Name: "stepup_grant_rejected_total", Help: "Step-up grants that failed verification."},
}

var HistogramDefs = []HistogramDef{
	{ID: stepup.MetricVerifyLatency, Name: "stepup_verify_latency_seconds", Help: "Time spent inside factor verifiers."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, without +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName is exported alongside the engine counters.
const (
	AuditDroppedName = "stepup_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."
)

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
