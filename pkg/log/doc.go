// Package log provides structured event logging for the cache-sync engine.
//
// This package defines the Logger interface and Event types for capturing
// engine events at multiple layers (transport, dispatch, cache). It is
// separate from operational logging (slog) - event capture provides a
// complete machine-readable trace for debugging synchronization issues.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// Both console and a custom sink: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), sink)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame traffic (FrameEvent)
//   - Dispatch: Decoded change events and drops (DispatchEvent)
//   - State: Connection state transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated event type. Events are CBOR
// serializable with integer keys so sinks can persist them compactly.
package log
