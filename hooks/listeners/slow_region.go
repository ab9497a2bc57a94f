package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
)

// SlowRegionRule flags regions that took longer than MaxDuration, or whose
// skipped-chunk ratio exceeds MaxSkipRatio.
type SlowRegionRule struct {
	MaxDuration  time.Duration
	MaxSkipRatio float64
}

// Outlier is a region that broke one of the rules.
type Outlier struct {
	Dimension core.Dimension
	Region    core.RegionPos
	Reason    string
}

// SlowRegionListener watches PostRegionConvert events for outliers.
type SlowRegionListener struct {
	logger   *slog.Logger
	rule     SlowRegionRule
	mu       sync.Mutex
	outliers []Outlier
}

func NewSlowRegionListener(logger *slog.Logger, rule SlowRegionRule) *SlowRegionListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SlowRegionListener{
		logger: logger.With("component", "SlowRegionListener"),
		rule:   rule,
	}
}

func (l *SlowRegionListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostRegionConvert {
		return nil
	}
	payload, ok := event.Payload().(hooks.RegionPayload)
	if !ok {
		l.logger.Error("Received PostRegionConvert event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	var reason string
	switch {
	case l.rule.MaxDuration > 0 && payload.Duration > l.rule.MaxDuration:
		reason = fmt.Sprintf("took %s (limit %s)", payload.Duration, l.rule.MaxDuration)
	case l.rule.MaxSkipRatio > 0 && payload.Chunks > 0 &&
		float64(payload.Skipped)/float64(payload.Chunks) > l.rule.MaxSkipRatio:
		reason = fmt.Sprintf("skipped %d of %d chunks", payload.Skipped, payload.Chunks)
	default:
		return nil
	}

	l.mu.Lock()
	l.outliers = append(l.outliers, Outlier{Dimension: payload.Dimension, Region: payload.Region, Reason: reason})
	l.mu.Unlock()
	l.logger.Warn("Region conversion outlier",
		"dimension", payload.Dimension.String(),
		"region", payload.Region.String(),
		"reason", reason)
	return nil
}

// Outliers returns a copy of the regions flagged so far.
func (l *SlowRegionListener) Outliers() []Outlier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Outlier(nil), l.outliers...)
}

func (l *SlowRegionListener) Priority() int { return 50 }

func (l *SlowRegionListener) IsAsync() bool { return true }
