// Package logger provides structured logging for TableSync.
//
// It wraps log/slog:
//
//   - logger.go: handler setup, runtime level changes
//   - context.go: request, room and actor IDs carried in context
//   - redact.go: masking of secrets and stored argon2 hashes
//
// The level is held in a shared slog.LevelVar so that a configuration
// reload takes effect on every logger already created.
package logger
