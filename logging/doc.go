// Package logging provides the Logger interface used across codemesh and the
// slog based implementations behind it.
//
// Components accept a Logger and fall back to NoOpLogger when none is set.
// StructuredLogger adds run and component attributes plus helpers for the
// events operators look for: dispatches, delegations and discoveries.
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(workers, func(o *engine.Options) { o.Logger = logger })
package logging
