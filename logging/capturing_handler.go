package logging

import (
	"context"
	"log/slog"
)

// KeyAttr is the attribute that ties a log record to an activity.
const KeyAttr = "activity_key"

// CapturingHandler wraps an slog.Handler and copies every record carrying a
// KeyAttr attribute into a LogCollector before passing it through.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *LogCollector
	key        string      // KeyAttr value bound through WithAttrs, if any
	attrs      []slog.Attr // attributes bound through WithAttrs
	groups     []string
}

// NewCapturingHandler creates a CapturingHandler.
func NewCapturingHandler(underlying slog.Handler, collector *LogCollector) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
	}
}

// Enabled always returns true so that debug records are captured even when
// the underlying handler would drop them. Handle applies the underlying
// handler's level before passing a record on.
func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle captures keyed records, then hands the record to the underlying
// handler if its level allows.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.key
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == KeyAttr {
			key = a.Value.String()
			return false
		}
		return true
	})

	if key != "" {
		entry := LogEntry{
			Time:       r.Time,
			Level:      r.Level.String(),
			Message:    r.Message,
			Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
		}
		for _, a := range h.attrs {
			entry.Attributes[a.Key] = resolveValue(a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			entry.Attributes[a.Key] = resolveValue(a.Value)
			return true
		})
		delete(entry.Attributes, KeyAttr)
		h.collector.Add(key, entry)
	}

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs returns a CapturingHandler that keeps capturing through
// logger.With chains.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		key:        h.key,
		attrs:      make([]slog.Attr, 0, len(h.attrs)+len(attrs)),
		groups:     h.groups,
	}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if a.Key == KeyAttr && len(h.groups) == 0 {
			next.key = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

// WithGroup returns a CapturingHandler with a group name.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, len(h.groups)+1)
	copy(groups, h.groups)
	groups[len(h.groups)] = name

	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		key:        h.key,
		attrs:      h.attrs,
		groups:     groups,
	}
}

// resolveValue converts a slog.Value to a JSON-serializable value.
func resolveValue(v slog.Value) any {
	v = v.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, a := range attrs {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	}
}
