// Package sinks provides progress.Sink implementations: structured log
// output, Prometheus gauges, and a JSON progress file.
package sinks
