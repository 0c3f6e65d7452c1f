// Package metrics exposes Prometheus metrics for a bridge runtime.
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New()
//	reg.MustRegister(m)
//	rt, _ := runtime.New(ctx, runtime.WithMetrics(m))
//
// Exported series:
//
//	starbridge_handles_live               gauge
//	starbridge_handle_events_total        counter{event}
//	starbridge_crossings_total            counter{direction}
//	starbridge_errors_total               counter{kind, origin}
//	starbridge_call_duration_seconds      histogram{op}
package metrics
