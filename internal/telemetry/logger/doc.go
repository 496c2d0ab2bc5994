// Package logger provides structured logging for spanmesh.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, dynamic level, package default
//   - context.go: context propagation of the logger and request ids
//   - redact.go: masking of link keys and other secrets
//
// Components of the link layer take a *slog.Logger; obtain one from
// Logger.Slog.
package logger
