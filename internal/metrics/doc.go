// Package metrics provides the engine's in-process counter table.
//
// Counters are plain atomics indexed by MetricID; there is no exporter here.
// The root package re-exports the IDs and the Snapshot type so hosts can
// scrape them into whatever telemetry system they run.
package metrics
