// Package otel binds stepup engine metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] groups the engine counters into a few instruments told
// apart by attribute: stepup.flows by stage, stepup.factor.attempts by
// outcome and stepup.grants by result. Verify latency is a cumulative gauge
// keyed by "le", and audit drops are counted per event_type. One callback
// reads the engine on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
