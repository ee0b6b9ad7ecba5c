// Package health aggregates the engine's operational state into a
// single queryable snapshot: connection state and epoch, heartbeat
// latency and misses, reconnect count, subscription and mutation
// counts, and the most recent error.
//
// The monitor is passive. The client wires the connection manager,
// heartbeat, registry, and engine into it through recorder calls and
// count providers; Snapshot assembles the current picture on demand.
// With a metrics registerer attached, the same signals are exported as
// Prometheus series.
package health
