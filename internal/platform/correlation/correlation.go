// Package correlation carries run, task and request identifiers through
// contexts and into log records.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type (
	runKey     struct{}
	taskKey    struct{}
	requestKey struct{}
)

// NewID generates an 8-character hex ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRunID returns a context carrying the pipeline run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID extracts the run ID from ctx, returning ("", false) if not present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runKey{}).(string)
	return id, ok && id != ""
}

// WithTaskID returns a context carrying the ID of one application task.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskKey{}, id)
}

func TaskID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskKey{}).(string)
	return id, ok && id != ""
}

// WithRequestID returns a context carrying the ID of one HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestKey{}).(string)
	return id, ok && id != ""
}

// Handler wraps an existing slog.Handler and adds "run_id", "task_id" and
// "request_id" attributes when the context carries them.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := RunID(ctx); ok {
		r.AddAttrs(slog.String("run_id", id))
	}
	if id, ok := TaskID(ctx); ok {
		r.AddAttrs(slog.String("task_id", id))
	}
	if id, ok := RequestID(ctx); ok {
		r.AddAttrs(slog.String("request_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
