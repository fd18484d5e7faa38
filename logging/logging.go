// Package logging defines the small leveled logger used across layerkv.
// Wrap your logging stack with one of the adapters under logging/ or
// provide your own implementation.
package logging

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger. With returns a child logger that
// attaches f to every record it writes.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
	With(f Fields) Logger
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, Fields)  {}
func (Nop) Info(string, Fields)   {}
func (Nop) Warn(string, Fields)   {}
func (Nop) Error(string, Fields)  {}
func (n Nop) With(Fields) Logger { return n }

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

// Merge returns a new map holding base overlaid with extra. Either may be nil.
func Merge(base, extra Fields) Fields {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
