package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/chunkbridge/hooks"
)

// SkipAlerterListener logs every region or chunk left out of the output and
// keeps a running count.
type SkipAlerterListener struct {
	logger *slog.Logger
	count  atomic.Int64
}

func NewSkipAlerterListener(logger *slog.Logger) *SkipAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SkipAlerterListener{logger: logger.With("component", "SkipAlerterListener")}
}

func (l *SkipAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventOnUnitSkipped {
		return nil
	}
	payload, ok := event.Payload().(hooks.UnitSkippedPayload)
	if !ok {
		l.logger.Error("Received OnUnitSkipped event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	n := l.count.Add(1)
	attrs := []any{
		"dimension", payload.Unit.Dimension.String(),
		"region", payload.Unit.Region.String(),
		"reason", payload.Unit.Reason,
		"skipped_total", n,
	}
	if payload.Unit.Chunk != nil {
		attrs = append(attrs, "chunk", payload.Unit.Chunk.String())
	}
	l.logger.Warn("Source data skipped", attrs...)
	return nil
}

// Count returns the number of skip events seen.
func (l *SkipAlerterListener) Count() int64 { return l.count.Load() }

func (l *SkipAlerterListener) Priority() int { return 100 }

func (l *SkipAlerterListener) IsAsync() bool { return false }
