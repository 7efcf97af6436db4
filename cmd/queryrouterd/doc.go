// Package main runs the browser side of the query router as a daemon.
//
// Content processes connect over WebSocket and issue queries that the
// daemon's handlers answer. The built-in handlers are:
//   - {"method":"time"}: current time
//   - {"method":"sleep","params":{"ms":N}}: answers after N milliseconds
//   - anything else: echoed back unchanged
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - An optional YAML or TOML file given with -config
//   - CLI flags (override both)
//
// Usage:
//
//	./queryrouterd -port 8000
//	./queryrouterd -config router.yaml -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
