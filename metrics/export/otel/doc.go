// Package otel exports rideauth engine metrics through OpenTelemetry.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and, per
// histogram, a cumulative bucket gauge keyed by an "le" attribute plus a
// count gauge. One callback reads the engine snapshot on each collection
// cycle. Callers own the MeterProvider.
package otel
