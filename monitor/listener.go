package monitor

import (
	"context"

	"github.com/INLOpen/chunkbridge/hooks"
)

// Listener returns a hook listener that keeps m current.
func (m *Metrics) Listener() hooks.HookListener { return &metricsListener{m: m} }

// Register subscribes m to every event it tracks.
func (m *Metrics) Register(hm hooks.HookManager) {
	l := m.Listener()
	for _, ev := range []hooks.EventType{
		hooks.EventPreRun,
		hooks.EventPostRun,
		hooks.EventOnStateChange,
		hooks.EventPostRegionConvert,
		hooks.EventOnUnitSkipped,
		hooks.EventPostSegmentCreate,
		hooks.EventPostStagingCompact,
	} {
		hm.Register(ev, l)
	}
}

type metricsListener struct {
	m *Metrics
}

func (l *metricsListener) OnEvent(_ context.Context, event hooks.HookEvent) error {
	m := l.m
	switch p := event.Payload().(type) {
	case hooks.RunPayload:
		m.RunsTotal.Add(1)
	case hooks.PostRunPayload:
		if p.Error != nil {
			m.RunErrorsTotal.Add(1)
		}
	case hooks.StateChangePayload:
		m.StateTransitions.Add(1)
		m.State.Set(p.To)
	case hooks.RegionPayload:
		m.RegionsTotal.Add(1)
		m.ChunksTotal.Add(int64(p.Chunks))
		if p.Error != nil {
			m.RegionErrorsTotal.Add(1)
		}
		observeLatency(m.RegionLatencyHist, p.Duration.Seconds())
	case hooks.UnitSkippedPayload:
		m.UnitsSkippedTotal.Add(1)
	case hooks.SegmentPayload:
		m.SegmentsCreated.Add(1)
	case hooks.CompactPayload:
		m.RecordsCompacted.Add(int64(p.Records))
		observeLatency(m.CompactionLatencyHist, p.Duration.Seconds())
	}
	return nil
}

func (l *metricsListener) Priority() int { return 100 }

// IsAsync is false: the handlers only touch atomics.
func (l *metricsListener) IsAsync() bool { return false }
