// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs go to stderr by default so that stdout stays free for command output.
// The Browser, Query and QueryID helpers produce the field names every router
// log line uses.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Component("host").Info("Query received", logging.Query(1, 2, 3)...)
package logging
