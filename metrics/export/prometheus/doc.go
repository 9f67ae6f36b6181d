// Package prometheus exposes sessionguard metrics as a prometheus.Collector.
//
// [NewCollector] reads [sessionguard.Engine.MetricsSnapshot] on every scrape.
// Counter names are sessionguard_*_total; the lock wait and validate latency
// histograms are reported in seconds. Register the collector with your own
// registry or mount [Collector.Handler].
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
