// Package prometheus exposes tenantauth engine metrics as a
// [github.com/prometheus/client_golang/prometheus.Collector].
//
// Register the [Collector] on any registry, or mount [Collector.Handler]
// which serves it from a private registry. Counter names are prefixed
// tenantauth_ and end in _total; the login histogram is
// tenantauth_login_latency_seconds.
package prometheus
