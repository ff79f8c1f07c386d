// Package otel binds engine counters to an OpenTelemetry meter.
//
// Counters become Int64ObservableCounter instruments with the same names the
// Prometheus collector uses. The login latency histogram is published as a
// cumulative bucket gauge with an "le" attribute plus a count gauge. The
// caller owns the MeterProvider.
package otel
