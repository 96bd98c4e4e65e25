// Package metrics provides Prometheus request metrics for the reference
// health target.
//
// Every request passing through Middleware increments
// healthprobe_target_requests_total{path,code} and observes
// healthprobe_target_request_duration_seconds{path}. The path label is the chi
// route pattern, or "unmatched" for requests that hit no route.
//
// Example usage:
//
//	m := metrics.New()
//	r := chi.NewRouter()
//	r.Use(m.Middleware)
//	r.Handle("/metrics", m.Handler())
package metrics
