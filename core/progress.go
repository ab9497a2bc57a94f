package core

// Phase names a stage of a conversion run for progress reporting.
type Phase string

const (
	PhaseRegions    Phase = "regions"
	PhaseEntities   Phase = "entities"
	PhaseFixups     Phase = "fixups"
	PhaseCompaction Phase = "compaction"
)

// ProgressSink receives progress updates. Returning false asks the run to
// stop at the next work-item boundary.
type ProgressSink interface {
	Report(phase Phase, done, total int) bool
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(phase Phase, done, total int) bool

func (f ProgressFunc) Report(phase Phase, done, total int) bool { return f(phase, done, total) }

// NopProgress never cancels.
var NopProgress ProgressSink = ProgressFunc(func(Phase, int, int) bool { return true })
