// Package metrics exposes Prometheus collectors for scan activity: ports by
// state, probe checks by outcome, admission limiter waits and step
// durations. A run can dump them to a textfile when it finishes.
package metrics
