// Package prometheus exposes engine counters as a prometheus.Collector.
//
// Counter names are agencyauth_*_total; the login latency histogram is
// agencyauth_login_latency_seconds. [Handler] serves a private registry so the
// global default registry is left alone.
package prometheus
