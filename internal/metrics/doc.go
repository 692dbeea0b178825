// Package metrics aggregates benchmark outcomes and exports them.
//
// BenchStats holds monotonically increasing atomic counters shared by every
// worker: submissions attempted, succeeded and failed, plus objects created
// and updated. Snapshot reads the outcome counters before the submitted
// counter, so a snapshot always satisfies Submitted >= Succeeded + Failed.
//
// # Basic Usage
//
//	stats := metrics.New()
//	stats.RecordSuccess(created, updated)
//	stats.RecordFailure()
//	logger.Info("", "%s", stats.Snapshot().Line())
//
// Reporter logs the progress line at a fixed interval (30s by default), and
// Collector exposes the same counters to a Prometheus registry.
package metrics
