package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pose.robustness/internal/monitoring"
	"github.com/banshee-data/pose.robustness/internal/noisypose"
	"github.com/banshee-data/pose.robustness/internal/poseerr"
	"github.com/banshee-data/pose.robustness/internal/rigid"
	"github.com/banshee-data/pose.robustness/internal/timeutil"
)

// Status is the state of a sweep run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// ErrAlreadyRunning is returned when Run is called on a busy Runner.
var ErrAlreadyRunning = errors.New("sweep already running")

// Request describes a noise-level sweep.
type Request struct {
	NoiseLevels []float64 `json:"noise_levels"`
	// Trials is the number of noisy initialisations per noise level.
	Trials      int    `json:"trials"`
	Views       int    `json:"views"`
	Batches     int    `json:"batches"`
	AnchorCount int    `json:"anchor_count"`
	Seed        uint64 `json:"seed"`
	Workers     int    `json:"workers"`
	// Extent bounds the random ground-truth translations. Defaults to 1.
	Extent float64 `json:"extent,omitempty"`

	// GroundTruth, when set, is perturbed in every trial instead of freshly
	// drawn random poses. Views and Batches are taken from it.
	GroundTruth *rigid.Batch `json:"-"`
}

func (r *Request) normalise() error {
	if len(r.NoiseLevels) == 0 {
		return errors.New("no noise levels")
	}
	for _, l := range r.NoiseLevels {
		if l < 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return fmt.Errorf("invalid noise level %v", l)
		}
	}
	if r.Trials < 1 {
		return fmt.Errorf("trials must be at least 1, got %d", r.Trials)
	}
	if r.AnchorCount < 0 {
		return fmt.Errorf("anchor count must be non-negative, got %d", r.AnchorCount)
	}
	if r.GroundTruth != nil {
		r.Views, r.Batches = r.GroundTruth.Views, r.GroundTruth.Batches
		if _, err := poseerr.BatchSceneScale(*r.GroundTruth); err != nil {
			return fmt.Errorf("ground truth: %w", err)
		}
	}
	if r.Views < 2 {
		return fmt.Errorf("views must be at least 2 to define a scene scale, got %d", r.Views)
	}
	if r.Batches < 1 {
		return fmt.Errorf("batches must be at least 1, got %d", r.Batches)
	}
	if r.Workers < 1 {
		r.Workers = 1
	}
	if r.Extent <= 0 {
		r.Extent = 1
	}
	return nil
}

// PointResult summarises the errors at one noise level. Rotation errors
// are in degrees; translation errors are camera-center distances divided
// by the scene scale.
type PointResult struct {
	NoiseLevel  float64 `json:"noise_level"`
	RotMean     float64 `json:"rot_mean"`
	RotStd      float64 `json:"rot_std"`
	RotMedian   float64 `json:"rot_median"`
	TransMean   float64 `json:"trans_mean"`
	TransStd    float64 `json:"trans_std"`
	TransMedian float64 `json:"trans_median"`
	Trials      int     `json:"trials"`
	// Samples is the number of perturbed poses behind the statistics.
	Samples int `json:"samples"`
}

// State is a snapshot of a Runner's progress.
type State struct {
	Status      Status        `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	TotalLevels int           `json:"total_levels"`
	Completed   int           `json:"completed_levels"`
	Results     []PointResult `json:"results,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Runner executes sweeps one at a time and exposes their progress.
type Runner struct {
	clock timeutil.Clock

	mu    sync.RWMutex
	state State
}

// NewRunner returns an idle Runner.
func NewRunner() *Runner {
	return NewRunnerWithClock(timeutil.RealClock{})
}

// NewRunnerWithClock returns an idle Runner that timestamps its state
// with clock.
func NewRunnerWithClock(clock timeutil.Clock) *Runner {
	return &Runner{clock: clock, state: State{Status: StatusIdle}}
}

// State returns a copy of the current progress.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	s.Results = append([]PointResult(nil), r.state.Results...)
	return s
}

// Run sweeps every noise level in req and returns one PointResult per level
// in request order. Each level draws from its own seed derived from
// req.Seed and the level index, so results do not depend on the number of
// workers.
func (r *Runner) Run(ctx context.Context, req Request) ([]PointResult, error) {
	if err := req.normalise(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	now := r.clock.Now()
	r.state = State{Status: StatusRunning, StartedAt: &now, TotalLevels: len(req.NoiseLevels)}
	r.mu.Unlock()

	results := make([]PointResult, len(req.NoiseLevels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Workers)
	for i, level := range req.NoiseLevels {
		g.Go(func() error {
			res, err := runLevel(gctx, req, i, level)
			if err != nil {
				return fmt.Errorf("noise level %g: %w", level, err)
			}
			results[i] = res
			r.mu.Lock()
			r.state.Completed++
			r.mu.Unlock()
			monitoring.Logf("sweep: sigma=%.4f rot=%.4f±%.4f deg trans=%.4f±%.4f",
				level, res.RotMean, res.RotStd, res.TransMean, res.TransStd)
			return nil
		})
	}
	err := g.Wait()

	r.mu.Lock()
	done := r.clock.Now()
	r.state.CompletedAt = &done
	if err != nil {
		r.state.Status = StatusError
		r.state.Error = err.Error()
	} else {
		r.state.Status = StatusComplete
		r.state.Results = append([]PointResult(nil), results...)
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return results, nil
}

// levelSeed mixes the base seed with the level index (splitmix64).
func levelSeed(base uint64, index int) uint64 {
	z := base + uint64(index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func runLevel(ctx context.Context, req Request, index int, level float64) (PointResult, error) {
	seed := levelSeed(req.Seed, index)
	gen, err := noisypose.NewSeededGenerator(noisypose.Config{NoiseLevel: level, AnchorCount: req.AnchorCount}, seed)
	if err != nil {
		return PointResult{}, err
	}
	poses := rand.New(rand.NewPCG(seed, ^seed))

	var rots, trans []float64
	for trial := 0; trial < req.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return PointResult{}, err
		}
		gt := req.GroundTruth
		if gt == nil {
			b := randomBatch(poses, req.Batches, req.Views, req.Extent)
			gt = &b
		}
		for b := 0; b < gt.Batches; b++ {
			entry := rigid.Batch{Batches: 1, Views: gt.Views, Data: gt.Data[b*gt.Views : (b+1)*gt.Views]}
			scale, err := poseerr.SceneScale(entry.Data)
			if err != nil {
				return PointResult{}, fmt.Errorf("trial %d batch %d: %w", trial, b, err)
			}
			res, err := gen.Initialize(entry, scale)
			if err != nil {
				return PointResult{}, fmt.Errorf("trial %d batch %d: %w", trial, b, err)
			}
			// Anchored poses carry no error and are left out.
			skip := min(req.AnchorCount, len(res.RotationErrors))
			rots = append(rots, res.RotationErrors[skip:]...)
			trans = append(trans, res.TranslationErrors[skip:]...)
		}
	}

	out := PointResult{NoiseLevel: level, Trials: req.Trials, Samples: len(rots)}
	out.RotMean, out.RotStd = MeanStddev(rots)
	out.TransMean, out.TransStd = MeanStddev(trans)
	out.RotMedian = Quantile(0.5, rots)
	out.TransMedian = Quantile(0.5, trans)
	return out, nil
}

// randomBatch draws random rotations and uniform translations in
// [-extent, extent]³.
func randomBatch(rng *rand.Rand, batches, views int, extent float64) rigid.Batch {
	data := make([]rigid.Transform, batches*views)
	for i := range data {
		axis := r3.Unit(r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()})
		rot := r3.NewRotation(rng.Float64()*math.Pi, axis).Mat()
		t := r3.Vec{
			X: (2*rng.Float64() - 1) * extent,
			Y: (2*rng.Float64() - 1) * extent,
			Z: (2*rng.Float64() - 1) * extent,
		}
		data[i] = rigid.FromRotationTranslation(rot, t)
	}
	return rigid.Batch{Batches: batches, Views: views, Data: data}
}
