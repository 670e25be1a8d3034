// Package log provides the structured logging facade used across loglens.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by the standard library
// slog through a handler that feeds the package's own formatters and
// outputs, so every component produces the same shape of output.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("spanstore"), log.FileID(id))
//	l.Info("span compressed", log.Int("lines", 1024))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config: JSON or text
// formatting, console/file/null outputs, key redaction and per-message
// sampling.
//
// # Interop
//
// Libraries that expect a *log.Logger can be pointed at a facade via
// ToStdLogger or RedirectStdLog.
package log
