// Package logging provides structured logging for the room controller.
//
// It wraps Go's standard log/slog package so all components log with the
// same format, level filtering, and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting hub", "room", roomID)
//	logger.Error("publish failed", "error", err)
//
// Never log broker credentials or tokens.
package logging
