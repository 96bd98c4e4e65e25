// Package logger provides structured text or JSON logging with configurable
// log levels on top of log/slog.
package logger
