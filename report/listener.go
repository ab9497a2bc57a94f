package report

import (
	"context"
	"errors"

	"github.com/INLOpen/chunkbridge/hooks"
)

// Listener feeds region and skipped-unit events into the ledger. It runs
// synchronously so every row is queued before Finish.
func (l *Ledger) Listener() hooks.HookListener {
	return &ledgerListener{ledger: l}
}

// Register subscribes the ledger to the events it records.
func (l *Ledger) Register(hm hooks.HookManager) {
	lis := l.Listener()
	hm.Register(hooks.EventPostRegionConvert, lis)
	hm.Register(hooks.EventOnUnitSkipped, lis)
}

type ledgerListener struct {
	ledger *Ledger
}

func (ll *ledgerListener) OnEvent(_ context.Context, event hooks.HookEvent) error {
	var err error
	switch p := event.Payload().(type) {
	case hooks.RegionPayload:
		r := regionRow{
			Dimension: p.Dimension,
			Region:    p.Region,
			Chunks:    p.Chunks,
			Skipped:   p.Skipped,
			Duration:  p.Duration,
		}
		if p.Error != nil {
			r.Error = p.Error.Error()
		}
		err = ll.ledger.recordRegion(r)
	case hooks.UnitSkippedPayload:
		err = ll.ledger.recordSkipped(p.Unit)
	}
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (ll *ledgerListener) Priority() int { return 10 }

func (ll *ledgerListener) IsAsync() bool { return false }
