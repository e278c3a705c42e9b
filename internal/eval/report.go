package eval

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pose.robustness/internal/fsutil"
	"github.com/banshee-data/pose.robustness/internal/monitoring"
	"github.com/banshee-data/pose.robustness/internal/security"
)

// Report file names written by Finish.
const (
	AverageScoresFile = "scores_all_avg.json"
	BenchmarkFile     = "benchmark.json"
)

// ScoresFile returns the name of the per-metric score list. Scorer metric
// names are sanitized so they cannot escape the output directory.
func ScoresFile(metric string) string {
	return fmt.Sprintf("scores_%s_all.json", security.SanitizeFilename(metric))
}

// benchmarker collects per-call execution times by tag.
type benchmarker struct {
	times   map[string][]float64
	skipped map[string]int
}

func newBenchmarker() *benchmarker {
	return &benchmarker{times: make(map[string][]float64), skipped: make(map[string]int)}
}

// record stores t as t.Calls equal per-call durations. Warmup calls are
// kept in the history but excluded from the averages.
func (b *benchmarker) record(t Timing, warmup bool) {
	calls := max(t.Calls, 1)
	per := t.Elapsed.Seconds() / float64(calls)
	for i := 0; i < calls; i++ {
		b.times[t.Tag] = append(b.times[t.Tag], per)
	}
	if warmup {
		b.skipped[t.Tag] += calls
	}
}

type timingAverage struct {
	Count   int
	Mean    float64
	Skipped int
}

func (b *benchmarker) averages() map[string]timingAverage {
	out := make(map[string]timingAverage, len(b.times))
	for tag, times := range b.times {
		skip := min(b.skipped[tag], len(times))
		kept := times[skip:]
		avg := timingAverage{Count: len(kept), Skipped: skip}
		if len(kept) > 0 {
			avg.Mean = floats.Sum(kept) / float64(len(kept))
		}
		out[tag] = avg
	}
	return out
}

// jsonFloat maps non-finite values to nil so they encode as null.
func jsonFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func jsonFloats(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = jsonFloat(v)
	}
	return out
}

// OutputDir is the directory Finish writes to.
func (h *Harness) OutputDir() string {
	return filepath.Join(h.Config.OutputPath, h.Config.RunName)
}

// Finish writes the accumulated scores and timings under OutputDir and
// clears them:
//
//	scores_<metric>_all.json  per-scene values of one metric
//	scores_all_avg.json       metric -> mean, timing tag -> [count, mean seconds]
//	benchmark.json            timing tag -> per-call seconds
//
// A per-metric list that cannot be written is logged and skipped. It
// returns the averages that were written.
func (h *Harness) Finish() (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sceneCount == 0 {
		return nil, ErrNoScenes
	}
	dir := h.OutputDir()
	fsys := h.Config.FS

	names := make([]string, 0, len(h.scores))
	for name := range h.scores {
		names = append(names, name)
	}
	sort.Strings(names)

	averages := make(map[string]any, len(names)+len(h.bench.times))
	for _, name := range names {
		values := h.scores[name]
		averages[name] = jsonFloat(floats.Sum(values) / float64(len(values)))
		monitoring.Logf("%s %v", name, averages[name])
		if err := fsutil.WriteJSON(fsys, filepath.Join(dir, ScoresFile(name)), jsonFloats(values)); err != nil {
			monitoring.Warnf("scores for %s not written: %v", name, err)
		}
	}

	for tag, avg := range h.bench.averages() {
		averages[tag] = []any{avg.Count, avg.Mean}
		monitoring.Logf("%s: %d calls, avg. %g seconds per call", tag, avg.Count, avg.Mean)
	}

	if err := fsutil.WriteJSON(fsys, filepath.Join(dir, AverageScoresFile), averages); err != nil {
		return nil, err
	}
	if err := fsutil.WriteJSON(fsys, filepath.Join(dir, BenchmarkFile), h.bench.times); err != nil {
		return nil, err
	}

	h.scores = make(map[string][]float64)
	h.bench = newBenchmarker()
	return averages, nil
}
