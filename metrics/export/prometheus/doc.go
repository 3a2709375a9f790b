// Package prometheus exposes rideauth engine metrics as a prometheus.Collector.
//
// Counter names are rideauth_*_total; the single histogram is
// rideauth_verify_latency_seconds. Callers either register the [Exporter] in
// their own registry or mount [Exporter.Handler].
package prometheus
