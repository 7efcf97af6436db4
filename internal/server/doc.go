// Package server runs the browser side of the query router as an HTTP
// daemon.
//
// Endpoints:
//   - GET /ws: content processes connect here and exchange router messages
//   - GET /health: liveness and connection count
//   - GET /metrics: Prometheus metrics of the daemon and its router
//   - GET /browsers/:id/pending: number of pending queries of a browser
//   - DELETE /browsers/:id/pending: cancel a browser's pending queries
//   - DELETE /browsers/:id: the browser is closing
//
// All router calls run on a single sequence.Loop started by Run. When a
// content process disconnects, the queries of every browser it served are
// canceled as if its render process had terminated.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg, logging.NewDefault(), handlers.Echo())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Run(ctx, nil); err != nil {
//	    log.Fatal(err)
//	}
package server
