// Package corrctx threads a per-message correlation context through the
// triage pipeline: a correlation id, the arrival timestamp of the triggering
// notification (when the message came in via push), and the current stage.
package corrctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const key ctxKey = 0

// Info is the correlation payload carried on a context.
type Info struct {
	CorrelationID string
	ArrivedAt     time.Time // zero for poll-path messages
	Stage         string
}

// New returns a child context carrying a fresh correlation id.
func New(ctx context.Context) context.Context {
	return context.WithValue(ctx, key, Info{CorrelationID: uuid.NewString()})
}

// WithArrival records the push-notification arrival time.
func WithArrival(ctx context.Context, at time.Time) context.Context {
	info := From(ctx)
	info.ArrivedAt = at
	return context.WithValue(ctx, key, info)
}

// WithStage marks the pipeline stage currently executing.
func WithStage(ctx context.Context, stage string) context.Context {
	info := From(ctx)
	info.Stage = stage
	return context.WithValue(ctx, key, info)
}

// From extracts the correlation info; a zero Info if none is attached.
func From(ctx context.Context) Info {
	if info, ok := ctx.Value(key).(Info); ok {
		return info
	}
	return Info{}
}

// ID is a shorthand for From(ctx).CorrelationID.
func ID(ctx context.Context) string {
	return From(ctx).CorrelationID
}
