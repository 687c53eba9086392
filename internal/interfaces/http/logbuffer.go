package http

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogBuffer is a thread-safe ring buffer of recent log records.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	size    int
	pos     int
	count   int
}

// NewLogBuffer creates a buffer holding at most size entries.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 500
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Entries returns all buffered entries, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return []LogEntry{}
	}

	result := make([]LogEntry, b.count)
	if b.count < b.size {
		copy(result, b.entries[:b.count])
	} else {
		n := copy(result, b.entries[b.pos:])
		copy(result[n:], b.entries[:b.pos])
	}
	return result
}

// LogFilter narrows Filter's output. Zero values match everything.
type LogFilter struct {
	MinLevel  slog.Level
	Component string
	Limit     int
}

// Filter returns the newest matching entries, oldest first.
func (b *LogBuffer) Filter(f LogFilter) []LogEntry {
	all := b.Entries()
	out := make([]LogEntry, 0, len(all))
	for _, e := range all {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(e.Level)); err == nil && lvl < f.MinLevel {
			continue
		}
		if f.Component != "" && e.Component != f.Component {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// LogBufferHandler is an slog.Handler that captures records into a LogBuffer.
// It only records; pair it with logger.Fanout to keep file and stderr output.
type LogBufferHandler struct {
	buffer *LogBuffer
	level  slog.Leveler
	attrs  []slog.Attr
}

// NewLogBufferHandler creates a capturing handler. A nil level means Info.
func NewLogBufferHandler(buffer *LogBuffer, level slog.Leveler) *LogBufferHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogBufferHandler{buffer: buffer, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *LogBufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle stores the record.
func (h *LogBufferHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if c, ok := attrs["component"].(string); ok {
		entry.Component = c
		delete(attrs, "component")
	}
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.buffer.Add(entry)
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *LogBufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LogBufferHandler{buffer: h.buffer, level: h.level, attrs: merged}
}

// WithGroup is a no-op; the buffer keeps a flat attribute map.
func (h *LogBufferHandler) WithGroup(string) slog.Handler {
	return h
}
