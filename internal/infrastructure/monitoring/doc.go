// Package monitoring exports Prometheus collectors under the ptyhost_
// namespace and keeps a small in-process snapshot for the /stats route.
//
// Sessions are tracked from spawn to exit with the shell profile and exit
// reason as labels; one-shot runs by outcome; tree kills by result. HTTP
// requests are labelled by route template. WebSocket upgrades are counted
// but left out of the latency histograms.
//
// Methods on a nil *Metrics do nothing, which lets the terminal packages run
// without any registry:
//
//	m := monitoring.NewMetricsWith(reg)
//	router.Use(monitoring.Middleware(m, "/metrics"))
//	defer monitoring.NewTimer(m, "terminal", "run_command").Stop("success")
package monitoring
