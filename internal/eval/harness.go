package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pose.robustness/internal/config"
	"github.com/banshee-data/pose.robustness/internal/fsutil"
	"github.com/banshee-data/pose.robustness/internal/monitoring"
	"github.com/banshee-data/pose.robustness/internal/noisypose"
	"github.com/banshee-data/pose.robustness/internal/poseerr"
	"github.com/banshee-data/pose.robustness/internal/rigid"
	"github.com/banshee-data/pose.robustness/internal/timeutil"
)

// HarnessConfig holds configuration for the evaluation harness.
type HarnessConfig struct {
	// NoisyPose replaces context poses with perturbed ground truth.
	NoisyPose   bool
	NoiseLevel  float64
	AnchorCount int
	Seed        uint64

	// ComputeScores renders target views and records image scores. It has
	// no effect unless Renderer and Scorer are set.
	ComputeScores bool
	// RelativePoseEval records rotation_angle and translation_angle of the
	// context poses used for rendering against ground truth.
	RelativePoseEval bool
	// EvalTimeSkipSteps excludes the timings of the first scenes from the
	// averaged timings.
	EvalTimeSkipSteps int

	OutputPath string
	RunName    string

	Renderer       Renderer
	Scorer         ImageScorer
	PredictedPoses PredictedPoseSource

	// FS receives the reports. Defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Clock times the renderer calls. Defaults to the system clock.
	Clock timeutil.Clock
}

// HarnessConfigFrom builds a HarnessConfig from a loaded EvalConfig.
// Collaborators are left unset.
func HarnessConfigFrom(c *config.EvalConfig) HarnessConfig {
	return HarnessConfig{
		NoisyPose:         c.GetNoisyPose(),
		NoiseLevel:        c.GetNoiseLevel(),
		AnchorCount:       c.GetAnchorCount(),
		Seed:              c.GetSeed(),
		ComputeScores:     c.GetComputeScores(),
		RelativePoseEval:  c.GetRelativePoseEval(),
		EvalTimeSkipSteps: c.GetEvalTimeSkipSteps(),
		OutputPath:        c.GetOutputPath(),
		RunName:           c.GetRunName(),
	}
}

func (c HarnessConfig) noise() noisypose.Config {
	return noisypose.Config{NoiseLevel: c.NoiseLevel, AnchorCount: c.AnchorCount}
}

// Harness evaluates scenes and accumulates their scores. Step and Run are
// safe for concurrent use; accumulation happens under a single lock.
type Harness struct {
	Config HarnessConfig

	genMu sync.Mutex
	gen   *noisypose.Generator

	mu            sync.RWMutex
	sceneCount    int64
	skippedScenes int64
	scores        map[string][]float64
	bench         *benchmarker
}

// NewHarness validates cfg and creates a harness.
func NewHarness(cfg HarnessConfig) (*Harness, error) {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.EvalTimeSkipSteps < 0 {
		return nil, fmt.Errorf("eval time skip steps must be non-negative, got %d", cfg.EvalTimeSkipSteps)
	}
	h := &Harness{
		Config: cfg,
		scores: make(map[string][]float64),
		bench:  newBenchmarker(),
	}
	if cfg.NoisyPose {
		gen, err := noisypose.NewSeededGenerator(cfg.noise(), cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("noisy pose generator: %w", err)
		}
		h.gen = gen
	}
	return h, nil
}

// initializer perturbs ground-truth poses.
type initializer interface {
	Initialize(gt rigid.Batch, sceneScale float64) (noisypose.Result, error)
}

// lockedGenerator shares one generator between concurrent Step callers.
// Only the draw is serialised; rendering and scoring run unlocked.
type lockedGenerator struct {
	mu  *sync.Mutex
	gen *noisypose.Generator
}

func (l lockedGenerator) Initialize(gt rigid.Batch, sceneScale float64) (noisypose.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen.Initialize(gt, sceneScale)
}

// Step evaluates one scene and records its result. Concurrent callers share
// the harness generator, so the draws they get depend on call order; use
// Run for reproducible concurrent evaluation.
func (h *Harness) Step(ctx context.Context, scene Scene) (SceneResult, error) {
	var gen initializer
	if h.gen != nil {
		gen = lockedGenerator{mu: &h.genMu, gen: h.gen}
	}
	res, err := h.evaluate(ctx, scene, gen)
	if err != nil {
		return SceneResult{}, err
	}
	h.record(res)
	return res, nil
}

// Run evaluates scenes on up to workers goroutines. Worker w owns a
// generator seeded with Seed+w and handles scenes w, w+workers, ... so
// the result for a fixed worker count does not depend on scheduling.
// Results are recorded in scene order once all scenes are done.
func (h *Harness) Run(ctx context.Context, scenes []Scene, workers int) ([]SceneResult, error) {
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, len(scenes))

	results := make([]SceneResult, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			var gen initializer
			if h.Config.NoisyPose {
				g, err := noisypose.NewSeededGenerator(h.Config.noise(), h.Config.Seed+uint64(w))
				if err != nil {
					return err
				}
				gen = g
			}
			for i := w; i < len(scenes); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := h.evaluate(gctx, scenes[i], gen)
				if err != nil {
					return fmt.Errorf("scene %s: %w", scenes[i].ID, err)
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		h.record(res)
	}
	return results, nil
}

// evaluate runs one scene without touching the accumulated state.
func (h *Harness) evaluate(ctx context.Context, scene Scene, gen initializer) (SceneResult, error) {
	res := SceneResult{SceneID: scene.ID, Metrics: make(map[string]float64)}
	poses := append([]rigid.Transform(nil), scene.Context...)

	if h.Config.NoisyPose && gen != nil {
		scale, err := poseerr.SceneScale(scene.Context)
		if err != nil {
			return skip(res, fmt.Sprintf("scene scale: %v", err)), nil
		}
		gt := rigid.Batch{Batches: 1, Views: len(poses), Data: poses}
		noisy, err := gen.Initialize(gt, scale)
		if err != nil {
			return SceneResult{}, fmt.Errorf("noisy pose initialisation: %w", err)
		}
		res.Metrics[MetricMeanRotationError] = stat.Mean(noisy.RotationErrors, nil)
		res.Metrics[MetricMeanTranslationError] = stat.Mean(noisy.TranslationErrors, nil)
		monitoring.Logf("scene %s: noisy init mean rotation error %.4f deg, mean translation error %.4f",
			scene.ID, res.Metrics[MetricMeanRotationError], res.Metrics[MetricMeanTranslationError])
		poses = noisy.Poses.Truncate().Data
	}

	if h.Config.PredictedPoses != nil {
		pred, ok := h.Config.PredictedPoses.PredictedPoses(scene.ID)
		if !ok {
			return skip(res, "no predicted poses"), nil
		}
		poses = append([]rigid.Transform(nil), pred...)
	}
	res.ContextPoses = poses

	if h.Config.ComputeScores && h.Config.Renderer != nil && h.Config.Scorer != nil {
		if err := h.render(ctx, scene, poses, &res); err != nil {
			return SceneResult{}, err
		}
	}

	if h.Config.RelativePoseEval {
		rel, err := poseerr.RelativePoseError(poses, scene.Context)
		if err != nil {
			monitoring.Warnf("scene %s: relative pose error not recorded: %v", scene.ID, err)
		} else {
			res.Metrics[MetricRotationAngle] = rel.RotationDeg
			res.Metrics[MetricTranslationAngle] = rel.TranslationDeg
		}
	}
	return res, nil
}

func (h *Harness) render(ctx context.Context, scene Scene, poses []rigid.Transform, res *SceneResult) error {
	clock := h.Config.Clock
	start := clock.Now()
	enc, err := h.Config.Renderer.Encode(ctx, scene, poses)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	res.Timings = append(res.Timings, Timing{Tag: TagEncoder, Elapsed: clock.Since(start), Calls: 1})

	start = clock.Now()
	images, err := h.Config.Renderer.Decode(ctx, enc, scene.Target)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	res.Timings = append(res.Timings, Timing{Tag: TagDecoder, Elapsed: clock.Since(start), Calls: max(len(scene.Target), 1)})

	scores, err := h.Config.Scorer.Score(ctx, images, scene.TargetImages)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	for name, v := range scores {
		res.Metrics[name] = v
	}
	return nil
}

func skip(res SceneResult, reason string) SceneResult {
	monitoring.Warnf("skipping scene %s: %s", res.SceneID, reason)
	return SceneResult{SceneID: res.SceneID, Skipped: true, SkipReason: reason}
}

func (h *Harness) record(res SceneResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	step := h.sceneCount
	h.sceneCount++
	if step%100 == 0 {
		monitoring.Logf("evaluation step %06d", step)
	}
	if res.Skipped {
		h.skippedScenes++
		return
	}

	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.scores[name] = append(h.scores[name], res.Metrics[name])
	}

	warmup := step < int64(h.Config.EvalTimeSkipSteps)
	for _, t := range res.Timings {
		h.bench.record(t, warmup)
	}
}

// Stats returns a deep copy of the accumulated per-metric values.
func (h *Harness) Stats() map[string][]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string][]float64, len(h.scores))
	for k, v := range h.scores {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// SkippedScenes returns the number of scenes skipped so far.
func (h *Harness) SkippedScenes() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.skippedScenes
}

// Summary returns a JSON-serialisable summary of the accumulated scores.
func (h *Harness) Summary() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	metrics := make(map[string]interface{}, len(h.scores))
	for name, values := range h.scores {
		mean, std := meanStd(values)
		metrics[name] = map[string]interface{}{
			"count": len(values),
			"mean":  jsonFloat(mean),
			"std":   jsonFloat(std),
		}
	}
	timings := make(map[string]interface{})
	for tag, avg := range h.bench.averages() {
		timings[tag] = map[string]interface{}{
			"count":          avg.Count,
			"mean_seconds":   avg.Mean,
			"skipped_warmup": avg.Skipped,
		}
	}
	return map[string]interface{}{
		"scene_count":    h.sceneCount,
		"skipped_scenes": h.skippedScenes,
		"metrics":        metrics,
		"timings":        timings,
	}
}

// Reset clears all accumulated state.
func (h *Harness) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sceneCount = 0
	h.skippedScenes = 0
	h.scores = make(map[string][]float64)
	h.bench = newBenchmarker()
}

// ErrNoScenes is returned by Finish when nothing was recorded.
var ErrNoScenes = errors.New("no scenes evaluated")

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	if len(values) < 2 {
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}
