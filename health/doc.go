// Package health reports the health of the resource manager and its subsystems.
//
// Three states are used:
//   - healthy: operating normally
//   - degraded: operating, but under memory pressure or after recent maintenance failures
//   - unhealthy: critical memory pressure or a subsystem that has stopped working
//
// Memory pressure maps directly onto these states through FromPressure:
// normal is healthy, warning is degraded and critical is unhealthy.
//
// A Monitor tracks one Status per subsystem and aggregates them. Any unhealthy
// subsystem makes the aggregate unhealthy; otherwise any degraded subsystem
// makes it degraded.
//
//	monitor := health.NewMonitor()
//	monitor.Update("memory", health.FromPressure("memory", level, resident, physical))
//	monitor.Update("storage", health.FromError("storage", err))
//	overall := monitor.AggregateHealth("resourcekit")
//
// Error text passed through FromError is sanitized: URLs, paths, IP addresses,
// ports and credential-looking pairs are replaced with placeholders before the
// message is exposed on the /health endpoint.
package health
