// Package tracing wraps OpenTelemetry so orchestration code records spans
// without importing the upstream packages directly.
package tracing
