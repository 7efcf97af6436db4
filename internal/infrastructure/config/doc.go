// Package config provides 12-factor configuration management for the query
// router daemon and script runner.
//
// Configuration is loaded from environment variables with sensible defaults.
// A YAML or TOML file may be overlaid on top with LoadFile.
//
// Configuration Sections:
//   - Router: script function names and the shared memory threshold
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Transport: frame size limit and compression
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Query message: %s\n", cfg.Router.QueryMessageName())
//
// Environment Variables:
//   - QUERY_FUNCTION, CANCEL_FUNCTION, MESSAGE_SIZE_THRESHOLD
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - TRANSPORT_MAX_FRAME, TRANSPORT_COMPRESS, TRANSPORT_COMPRESS_THRESHOLD
package config
