// Package metrics exposes Prometheus metrics on a dedicated listener.
//
// MetricsServer owns a private registry with the Go runtime and process
// collectors. RotationCollector is registered on it and receives the
// rotation scheduler's lifecycle callbacks.
package metrics
