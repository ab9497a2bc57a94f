package pipeline

import (
	"context"

	"github.com/INLOpen/chunkbridge/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of a conversion run.
type State string

const (
	StateIdle                 State = "Idle"
	StateLocking              State = "Locking"
	StateReadingMetadata      State = "ReadingMetadata"
	StateScheduling           State = "Scheduling"
	StateDraining             State = "Draining"
	StateEntityAttachmentPass State = "EntityAttachmentPass"
	StateFinalizing           State = "Finalizing"
	StateDone                 State = "Done"
	StateFailed               State = "Failed"
)

// transition moves the run to next, logging it and notifying listeners.
func (r *run) transition(ctx context.Context, next State) {
	prev := r.state
	if prev == next {
		return
	}
	r.state = next
	r.logger.Info("Conversion state changed", "from", string(prev), "to", string(next))
	trace.SpanFromContext(ctx).AddEvent("state", trace.WithAttributes(
		attribute.String("from", string(prev)),
		attribute.String("to", string(next)),
	))
	_ = r.hooks.Trigger(ctx, hooks.NewStateChangeEvent(hooks.StateChangePayload{From: string(prev), To: string(next)}))
}
