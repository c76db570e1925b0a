// Package progress tracks per-job harvest progress and flushes periodic
// snapshots to pluggable sinks (log, Prometheus, JSON file).
package progress
