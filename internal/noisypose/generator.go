// Package noisypose builds perturbed initial camera poses from ground
// truth. Each pose is left-multiplied by exp(ξ) with ξ ~ N(0, σ²I₆), so the
// same σ applies to the rotation and translation components of the
// perturbation.
package noisypose

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/pose.robustness/internal/poseerr"
	"github.com/banshee-data/pose.robustness/internal/rigid"
)

// Config controls pose perturbation.
type Config struct {
	// NoiseLevel is the standard deviation σ of every tangent component.
	NoiseLevel float64 `json:"noise_level"`
	// AnchorCount is the number of leading poses (in flattened batch-major
	// order) that are kept at their ground-truth value.
	AnchorCount int `json:"anchor_count"`
}

// Validate rejects negative noise levels and anchor counts.
func (c Config) Validate() error {
	if c.NoiseLevel < 0 {
		return fmt.Errorf("noise_level must be non-negative, got %v", c.NoiseLevel)
	}
	if c.AnchorCount < 0 {
		return fmt.Errorf("anchor_count must be non-negative, got %d", c.AnchorCount)
	}
	return nil
}

// Result is the output of Initialize.
type Result struct {
	// Poses are the noisy poses laid out as (batch, view) 4×4 matrices.
	Poses rigid.HomogeneousBatch `json:"poses"`
	// RotationErrors holds the per-pose geodesic error in degrees, in
	// flattened batch-major order.
	RotationErrors []float64 `json:"rotation_errors"`
	// TranslationErrors holds the per-pose camera-center error divided by
	// the scene scale.
	TranslationErrors []float64 `json:"translation_errors"`
}

// Generator draws pose perturbations from its own random source. A
// Generator is not safe for concurrent use.
type Generator struct {
	cfg    Config
	normal distuv.Normal
}

// NewGenerator returns a Generator drawing from src.
func NewGenerator(cfg Config, src rand.Source) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("noisypose: nil random source")
	}
	return &Generator{
		cfg:    cfg,
		normal: distuv.Normal{Mu: 0, Sigma: cfg.NoiseLevel, Src: src},
	}, nil
}

// NewSeededGenerator returns a Generator backed by a PCG source seeded
// from seed.
func NewSeededGenerator(cfg Config, seed uint64) (*Generator, error) {
	return NewGenerator(cfg, NewSource(seed))
}

// NewSource returns the PCG source used for a given seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0xda942042e4dd58b5)
}

// Config returns the generator configuration.
func (g *Generator) Config() Config { return g.cfg }

// Perturbation draws one tangent sample and maps it to a transform.
func (g *Generator) Perturbation() rigid.Transform {
	var xi rigid.Tangent
	for k := range xi {
		xi[k] = g.normal.Rand()
	}
	return rigid.Exp(xi)
}

// Initialize perturbs every pose of gt and reports how far each noisy pose
// ended up from its ground truth. sceneScale normalises the translation
// errors and must be positive.
func (g *Generator) Initialize(gt rigid.Batch, sceneScale float64) (Result, error) {
	flat := gt.Flatten()
	n := len(flat)

	anchors := min(g.cfg.AnchorCount, n)

	noisy := make([]rigid.Transform, n)
	for i, pose := range flat {
		if i < anchors {
			noisy[i] = pose
			continue
		}
		noisy[i] = rigid.Compose(g.Perturbation(), pose)
	}

	errs, err := poseerr.Compare(noisy, flat, sceneScale)
	if err != nil {
		return Result{}, fmt.Errorf("noisy pose errors: %w", err)
	}

	poses, err := rigid.Reshape(gt.Batches, gt.Views, noisy)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Poses:             poses,
		RotationErrors:    errs.RotationDeg,
		TranslationErrors: errs.Translation,
	}, nil
}
