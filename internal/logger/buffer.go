package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one log line as the display sees it.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

type entryStore struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// EntryBuffer is a zapcore.Core that keeps the newest entries in memory.
type EntryBuffer struct {
	zapcore.LevelEnabler
	store  *entryStore
	fields []zapcore.Field
}

// NewEntryBuffer keeps at most limit entries at or above the given level.
func NewEntryBuffer(level zapcore.LevelEnabler, limit int) *EntryBuffer {
	return &EntryBuffer{
		LevelEnabler: level,
		store:        &entryStore{limit: limit},
	}
}

func (b *EntryBuffer) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(b.fields)+len(fields))
	merged = append(merged, b.fields...)
	merged = append(merged, fields...)
	return &EntryBuffer{LevelEnabler: b.LevelEnabler, store: b.store, fields: merged}
}

func (b *EntryBuffer) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if b.Enabled(ent.Level) {
		return ce.AddCore(ent, b)
	}
	return ce
}

func (b *EntryBuffer) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range b.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	e := Entry{
		Time:    ent.Time,
		Level:   ent.Level.CapitalString(),
		Message: ent.Message,
	}
	if len(enc.Fields) > 0 {
		e.Fields = enc.Fields
	}

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
	return nil
}

func (b *EntryBuffer) Sync() error { return nil }

// Entries returns the buffered entries, newest first.
func (b *EntryBuffer) Entries() []Entry {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

// Clear drops every buffered entry.
func (b *EntryBuffer) Clear() {
	b.store.mu.Lock()
	b.store.entries = nil
	b.store.mu.Unlock()
}
