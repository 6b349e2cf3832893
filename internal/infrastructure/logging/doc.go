// Package logging provides structured logging for RelayHub.
//
// It wraps log/slog so every record carries the service name and build
// version. JSON output is intended for production, text for development.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("relay listening", "port", 8080)
//
// Never log tokens or password hashes.
package logging
