package logger

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
)

// AsyncHandler buffers records on a channel and emits them from a single
// background goroutine, so Handle never blocks the caller on slow sinks.
type AsyncHandler struct {
	next    slog.Handler
	records chan slog.Record
	drop    bool
	once    sync.Once
}

// NewAsyncHandler wraps next with a bounded buffer of the given size.
// When drop is true, records are discarded under backpressure instead of
// blocking the caller; when false, Handle blocks until buffer space frees up.
func NewAsyncHandler(next slog.Handler, bufferSize int, drop bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		records: make(chan slog.Record, bufferSize),
		drop:    drop,
	}
	go h.run()
	return h
}

func (h *AsyncHandler) run() {
	for r := range h.records {
		_ = h.next.Handle(context.Background(), r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.drop {
		select {
		case h.records <- r:
		default:
			// Buffer full: drop rather than block the caller.
		}
		return nil
	}
	h.records <- r
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, drop: h.drop}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, drop: h.drop}
}

// SamplingHandler drops a fraction of records before they reach next.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

// NewSamplingHandler keeps roughly `rate` (0.0-1.0) of records; errors and
// warnings always pass through regardless of rate.
func NewSamplingHandler(next slog.Handler, rate float64) *SamplingHandler {
	return &SamplingHandler{next: next, rate: rate}
}

func (h *SamplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SamplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn || rand.Float64() < h.rate {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *SamplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SamplingHandler{next: h.next.WithAttrs(attrs), rate: h.rate}
}

func (h *SamplingHandler) WithGroup(name string) slog.Handler {
	return &SamplingHandler{next: h.next.WithGroup(name), rate: h.rate}
}

var redactKeys = regexp.MustCompile(`(?i)^(email|cc|card|ssn|password|secret|token)$`)

// RedactHandler replaces values of attributes whose key looks sensitive
// (email, card number, password, ...) with a fixed placeholder.
type RedactHandler struct {
	next slog.Handler
}

func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, nr)
}

func redactAttr(a slog.Attr) slog.Attr {
	if redactKeys.MatchString(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactHandler{next: h.next.WithAttrs(redacted)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}
