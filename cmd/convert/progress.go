package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

var phaseTitles = map[core.Phase]string{
	core.PhaseRegions:    "Converting regions",
	core.PhaseEntities:   "Writing entity digests",
	core.PhaseFixups:     "Resolving cross-region data",
	core.PhaseCompaction: "Committing records",
}

// progressBars draws one bar per phase. On a non-terminal writer it prints
// a line when a phase starts and ends instead.
type progressBars struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	tty     bool
	phase   core.Phase
	bar     *progressbar.ProgressBar
	total   int
}

func newProgressBars(out io.Writer, enabled bool) *progressBars {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &progressBars{out: out, enabled: enabled, tty: tty}
}

// Report implements core.ProgressSink. It never cancels; cancellation comes
// from the signal context.
func (p *progressBars) Report(phase core.Phase, done, total int) bool {
	if !p.enabled {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if phase != p.phase {
		p.finishLocked()
		p.phase = phase
		p.total = total
		if p.tty {
			p.bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionSetDescription(title(phase)),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionClearOnFinish(),
			)
		} else {
			fmt.Fprintf(p.out, "%s: %d items\n", title(phase), total)
		}
	}
	if p.bar != nil {
		if total != p.total {
			p.total = total
			p.bar.ChangeMax(total)
		}
		_ = p.bar.Set(done)
	}
	return true
}

func (p *progressBars) finishLocked() {
	if p.phase == "" {
		return
	}
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	if !p.tty {
		fmt.Fprintf(p.out, "%s: done\n", title(p.phase))
	}
}

// Close ends the current bar.
func (p *progressBars) Close() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
	p.phase = ""
}

func title(phase core.Phase) string {
	if t, ok := phaseTitles[phase]; ok {
		return t
	}
	return string(phase)
}
