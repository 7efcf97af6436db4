/*
Package monitoring provides Prometheus metrics for the routers and the daemon.

# Overview

RouterMetrics counts queries by outcome, cancellations by reason and outbound
messages by encoding, and tracks pending entries and registered handlers.
Metrics tracks HTTP requests and WebSocket endpoints of the daemon.

All constructors take a prometheus.Registerer so tests can use a private
registry.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.Use(monitoring.Middleware(metrics))

	hostMetrics := monitoring.NewRouterMetrics(reg, "host")
	hostRouter := host.New(cfg.Router, loop).WithMetrics(hostMetrics)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
