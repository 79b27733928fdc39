// Package prometheus exposes stepup engine metrics through
// prometheus/client_golang.
//
// [Exporter] is a prometheus.Collector. Register it with any registry, or
// mount [Exporter.Handler] which serves it from a private one. Counters are
// named stepup_*_total; the single histogram is
// stepup_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
