// Package monitor exposes a conversion run's progress as expvar metrics
// and serves them, with pprof and statsviz, on a debug listener.
package monitor

import (
	"expvar"
	"fmt"
)

// latencyBuckets are the histogram bucket bounds in seconds.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}

// Metrics holds the expvar variables of one converter process.
type Metrics struct {
	PublishedGlobally bool

	RunsTotal         *expvar.Int
	RunErrorsTotal    *expvar.Int
	RegionsTotal      *expvar.Int
	RegionErrorsTotal *expvar.Int
	ChunksTotal       *expvar.Int
	UnitsSkippedTotal *expvar.Int
	SegmentsCreated   *expvar.Int
	RecordsCompacted  *expvar.Int
	StateTransitions  *expvar.Int

	State *expvar.String

	RegionLatencyHist     *expvar.Map
	CompactionLatencyHist *expvar.Map
}

// NewMetrics creates the metric set. With publishGlobally the variables are
// registered under prefix in the process-wide expvar namespace, reusing any
// variable of the same name.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := func(_ string) *expvar.Int { return new(expvar.Int) }
	newString := func(_ string) *expvar.String { return new(expvar.String) }
	newMap := func(_ string) *expvar.Map { return new(expvar.Map).Init() }
	if publishGlobally {
		newInt = publishExpvarInt
		newString = publishExpvarString
		newMap = publishExpvarMap
	}

	m := &Metrics{
		PublishedGlobally: publishGlobally,
		RunsTotal:         newInt(prefix + "runs_total"),
		RunErrorsTotal:    newInt(prefix + "run_errors_total"),
		RegionsTotal:      newInt(prefix + "regions_total"),
		RegionErrorsTotal: newInt(prefix + "region_errors_total"),
		ChunksTotal:       newInt(prefix + "chunks_total"),
		UnitsSkippedTotal: newInt(prefix + "units_skipped_total"),
		SegmentsCreated:   newInt(prefix + "staging_segments_created_total"),
		RecordsCompacted:  newInt(prefix + "staging_records_compacted_total"),
		StateTransitions:  newInt(prefix + "state_transitions_total"),
		State:             newString(prefix + "state"),

		RegionLatencyHist:     newMap(prefix + "region_latency_seconds"),
		CompactionLatencyHist: newMap(prefix + "compaction_latency_seconds"),
	}
	for _, h := range []*expvar.Map{m.RegionLatencyHist, m.CompactionLatencyHist} {
		h.Set("count", new(expvar.Int))
		h.Set("sum", new(expvar.Float))
		for _, b := range latencyBuckets {
			h.Set(bucketName(b), new(expvar.Int))
		}
		h.Set("le_inf", new(expvar.Int))
	}
	return m
}

func bucketName(b float64) string { return fmt.Sprintf("le_%.3f", b) }

// observeLatency records durationSeconds in a cumulative histogram.
func observeLatency(h *expvar.Map, durationSeconds float64) {
	if h == nil {
		return
	}
	if v, ok := h.Get("count").(*expvar.Int); ok {
		v.Add(1)
	}
	if v, ok := h.Get("sum").(*expvar.Float); ok {
		v.Add(durationSeconds)
	}
	for _, b := range latencyBuckets {
		if durationSeconds <= b {
			if v, ok := h.Get(bucketName(b)).(*expvar.Int); ok {
				v.Add(1)
			}
		}
	}
	if v, ok := h.Get("le_inf").(*expvar.Int); ok {
		v.Add(1)
	}
}

// publishExpvarInt returns the published Int called name, creating it or
// resetting an existing one.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}

func publishExpvarString(name string) *expvar.String {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewString(name)
	}
	if sv, ok := v.(*expvar.String); ok {
		sv.Set("")
		return sv
	}
	panic(fmt.Sprintf("expvar: trying to publish String %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap returns the published Map called name. An existing map
// is cleared and reused.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		mv.Init()
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
