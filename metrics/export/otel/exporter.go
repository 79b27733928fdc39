package otel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() stepup.MetricsSnapshot
	AuditDroppedByEvent() map[string]uint64
}

// Instrument names. Engine counters are grouped by what they count and told
// apart by attribute.
const (
	FlowsName         = "stepup.flows"
	FactorAttemptName = "stepup.factor.attempts"
	CodesIssuedName   = "stepup.codes.issued"
	DevicesName       = "stepup.devices.trusted"
	GrantsName        = "stepup.grants"
	VerifyBucketName  = "stepup.verify.duration.bucket"
	VerifyCountName   = "stepup.verify.duration.count"
	AuditDroppedName  = "stepup.audit.dropped"
)

// Attribute keys.
const (
	StageKey     = attribute.Key("stage")
	OutcomeKey   = attribute.Key("outcome")
	ResultKey    = attribute.Key("result")
	BoundKey     = attribute.Key("le")
	EventTypeKey = attribute.Key("event_type")
)

// series binds one engine counter to an instrument and its attributes.
type series struct {
	id         stepup.MetricID
	instrument metric.Int64ObservableCounter
	attrs      metric.ObserveOption
}

// OTelExporter publishes engine snapshots through observable instruments.
//
// Verify latency buckets are cumulative and reported on one gauge keyed by
// the "le" attribute, with "+Inf" equal to the sample count.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	series       []series
	verifyBucket metric.Int64ObservableGauge
	verifyCount  metric.Int64ObservableGauge
	boundAttrs   []metric.ObserveOption
	auditDropped metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *stepup.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers one callback on meter that reads
// source on every collection.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	flows, err := meter.Int64ObservableCounter(FlowsName,
		metric.WithDescription("Step-up flows by stage."), metric.WithUnit("{flow}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", FlowsName, err)
	}
	attempts, err := meter.Int64ObservableCounter(FactorAttemptName,
		metric.WithDescription("Factor proofs by outcome."), metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", FactorAttemptName, err)
	}
	codes, err := meter.Int64ObservableCounter(CodesIssuedName,
		metric.WithDescription("One-time codes delivered."), metric.WithUnit("{code}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", CodesIssuedName, err)
	}
	devices, err := meter.Int64ObservableCounter(DevicesName,
		metric.WithDescription("Devices remembered after a fulfilled flow."), metric.WithUnit("{device}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", DevicesName, err)
	}
	grants, err := meter.Int64ObservableCounter(GrantsName,
		metric.WithDescription("Step-up grants by result."), metric.WithUnit("{grant}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", GrantsName, err)
	}

	exporter := &OTelExporter{
		source: source,
		series: []series{
			{stepup.MetricFlowStarted, flows, withAttr(StageKey.String("started"))},
			{stepup.MetricFlowFulfilled, flows, withAttr(StageKey.String("fulfilled"))},
			{stepup.MetricFactorSuccess, attempts, withAttr(OutcomeKey.String("success"))},
			{stepup.MetricFactorFailure, attempts, withAttr(OutcomeKey.String("failure"))},
			{stepup.MetricFactorOutOfOrder, attempts, withAttr(OutcomeKey.String("out_of_order"))},
			{stepup.MetricRateLimited, attempts, withAttr(OutcomeKey.String("rate_limited"))},
			{stepup.MetricCodeIssued, codes, nil},
			{stepup.MetricDeviceTrusted, devices, nil},
			{stepup.MetricGrantIssued, grants, withAttr(ResultKey.String("issued"))},
			{stepup.MetricGrantRejected, grants, withAttr(ResultKey.String("rejected"))},
		},
	}

	exporter.verifyBucket, err = meter.Int64ObservableGauge(VerifyBucketName,
		metric.WithDescription("Cumulative count of verifier calls at or under each bound, in seconds."),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", VerifyBucketName, err)
	}
	exporter.verifyCount, err = meter.Int64ObservableGauge(VerifyCountName,
		metric.WithDescription("Verifier calls timed."), metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", VerifyCountName, err)
	}
	for _, le := range internaldefs.HistogramUpperBounds {
		exporter.boundAttrs = append(exporter.boundAttrs, withAttr(BoundKey.String(strconv.FormatFloat(le, 'g', -1, 64))))
	}
	exporter.boundAttrs = append(exporter.boundAttrs, withAttr(BoundKey.String("+Inf")))

	exporter.auditDropped, err = meter.Int64ObservableCounter(AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp), metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditDroppedName, err)
	}

	exporter.registration, err = meter.RegisterCallback(exporter.observe,
		flows, attempts, codes, devices, grants,
		exporter.verifyBucket, exporter.verifyCount, exporter.auditDropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return exporter, nil
}

func withAttr(kv ...attribute.KeyValue) metric.ObserveOption {
	return metric.WithAttributeSet(attribute.NewSet(kv...))
}

// observe reports nothing for the engine counters while metrics are disabled.
func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	if len(snapshot.Counters) > 0 {
		for _, s := range e.series {
			if s.attrs == nil {
				o.ObserveInt64(s.instrument, int64(snapshot.Counters[s.id]))
				continue
			}
			o.ObserveInt64(s.instrument, int64(snapshot.Counters[s.id]), s.attrs)
		}
	}

	if raw, ok := snapshot.Histograms[stepup.MetricVerifyLatency]; ok {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attrs := range e.boundAttrs {
			o.ObserveInt64(e.verifyBucket, int64(cumulative[i]), attrs)
		}
		o.ObserveInt64(e.verifyCount, int64(cumulative[len(cumulative)-1]))
	}

	drops := e.source.AuditDroppedByEvent()
	types := make([]string, 0, len(drops))
	for name := range drops {
		types = append(types, name)
	}
	sort.Strings(types)
	for _, name := range types {
		o.ObserveInt64(e.auditDropped, int64(drops[name]), withAttr(EventTypeKey.String(name)))
	}
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
