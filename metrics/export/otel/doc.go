// Package otel registers tenantauth engine metrics as OpenTelemetry
// observable instruments.
//
// Each counter becomes an Int64ObservableCounter. The login histogram is
// published as one cumulative gauge per bucket plus count and sum gauges.
// A single callback reads the engine snapshot per collection cycle.
package otel
