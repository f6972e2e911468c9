// Package metric provides Prometheus metrics for TableSync.
//
//   - prometheus.go: the registry, counters, histograms and /metrics handler
//   - collector.go: gauges sampled from live server state at scrape time
//
// Metrics are exposed at /metrics in Prometheus text format.
package metric
