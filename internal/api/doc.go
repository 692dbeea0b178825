// Package api serves a live view of a running benchmark.
//
// Routes:
//
//	GET /api/status   run id, pressure level, counters, derived TPS and failure rate
//	GET /api/workers  per-worker address, tracked object count, fee coin version
//	GET /api/presets  available presets
//	GET /metrics      Prometheus exposition (process gauges plus run counters)
//	GET /ws           websocket stream of bus events and a status heartbeat
//
// The server only reads from its Source; it never starts or stops a run.
package api
