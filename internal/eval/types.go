// Package eval runs pose-robustness evaluation over a set of scenes. For
// each scene it can replace the context camera poses with noisy or
// externally predicted ones, render and score the target views, and
// measure relative pose error. Scores are accumulated across scenes and
// written as JSON reports when the run finishes.
package eval

import (
	"context"
	"image"
	"time"

	"github.com/banshee-data/pose.robustness/internal/rigid"
)

// Scene is one evaluation example: a few context views with known poses
// and the target views to synthesise.
type Scene struct {
	ID string `json:"scene"`
	// Context holds the ground-truth world-to-camera extrinsics of the
	// context views.
	Context []rigid.Transform `json:"context"`
	// Target holds the extrinsics of the views to render.
	Target []rigid.Transform `json:"target"`
	// TargetImages are the ground-truth images of the target views, when
	// available.
	TargetImages []image.Image `json:"-"`
}

// Renderer synthesises target views from context views. Encoding and
// decoding are separate calls so they can be timed independently.
type Renderer interface {
	Encode(ctx context.Context, scene Scene, contextPoses []rigid.Transform) (any, error)
	Decode(ctx context.Context, encoding any, targets []rigid.Transform) ([]image.Image, error)
}

// ImageScorer compares rendered images against ground truth and returns
// named scores such as "psnr", "ssim" or "lpips".
type ImageScorer interface {
	Score(ctx context.Context, rendered, truth []image.Image) (map[string]float64, error)
}

// PredictedPoseSource supplies externally estimated context poses.
type PredictedPoseSource interface {
	// PredictedPoses returns the poses for a scene and whether the scene is
	// known.
	PredictedPoses(sceneID string) ([]rigid.Transform, bool)
}

// Metric names recorded by the harness.
const (
	MetricMeanRotationError    = "mean_rotation_error"
	MetricMeanTranslationError = "mean_translation_error"
	MetricRotationAngle        = "rotation_angle"
	MetricTranslationAngle     = "translation_angle"
)

// Timing tags.
const (
	TagEncoder = "encoder"
	TagDecoder = "decoder"
)

// Timing is one timed collaborator call. Calls > 1 means the elapsed time
// covered that many units of work (one per decoded view).
type Timing struct {
	Tag     string        `json:"tag"`
	Elapsed time.Duration `json:"elapsed"`
	Calls   int           `json:"calls"`
}

// SceneResult is the outcome of evaluating one scene.
type SceneResult struct {
	SceneID    string             `json:"scene"`
	Skipped    bool               `json:"skipped,omitempty"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	// ContextPoses are the context extrinsics the renderer was given.
	ContextPoses []rigid.Transform `json:"context_poses,omitempty"`
	Timings      []Timing          `json:"timings,omitempty"`
}
