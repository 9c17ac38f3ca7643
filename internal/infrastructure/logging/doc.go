// Package logging provides structured logging for the mesh core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Size-based rotating log files via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "/var/log/meshcore/meshcore.log"
//	    max_size: 50     # megabytes
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("device joined", "ieee", ieee)
//
// *Logger satisfies the small Logger interfaces declared by the mesh,
// bridge and persistence packages.
package logging
