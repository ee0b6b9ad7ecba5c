package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes engine events to an slog.Logger.
// Useful for development when you want to see engine events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Errors are logged at Warn
// level, dropped events and everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Epoch != "" {
		attrs = append(attrs, slog.String("epoch", event.Epoch))
	}

	level := slog.LevelDebug

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs, slog.Int("frame_size", event.Frame.Size))
		if event.Frame.MsgType != "" {
			attrs = append(attrs, slog.String("msg_type", event.Frame.MsgType))
		}
	case event.Dispatch != nil:
		attrs = append(attrs,
			slog.String("entity_type", event.Dispatch.EntityType),
			slog.String("event_type", event.Dispatch.EventType),
			slog.Uint64("sequence", event.Dispatch.Sequence),
		)
		if event.Dispatch.EntityID != "" {
			attrs = append(attrs, slog.String("entity_id", event.Dispatch.EntityID))
		}
		if event.Dispatch.Dropped {
			attrs = append(attrs, slog.Bool("dropped", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "cachewire", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
