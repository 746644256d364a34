// Package metrics aggregates per-request latency, outcome and byte usage of
// executed batches using HDR histograms.
package metrics
