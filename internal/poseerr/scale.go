package poseerr

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pose.robustness/internal/rigid"
)

// SceneScale estimates the spatial extent of a scene from its context
// cameras: the largest distance of any camera center from the centroid of
// all centers. It returns ErrDegenerateScale when there are no cameras or
// all centers coincide.
func SceneScale(context []rigid.Transform) (float64, error) {
	if len(context) == 0 {
		return 0, fmt.Errorf("scene scale of empty camera set: %w", ErrDegenerateScale)
	}

	xs := make([]float64, len(context))
	ys := make([]float64, len(context))
	zs := make([]float64, len(context))
	centers := make([]r3.Vec, len(context))
	for i, t := range context {
		c := t.Center()
		centers[i] = c
		xs[i], ys[i], zs[i] = c.X, c.Y, c.Z
	}
	centroid := r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}

	dists := make([]float64, len(centers))
	for i, c := range centers {
		dists[i] = r3.Norm(r3.Sub(c, centroid))
	}
	scale := floats.Max(dists)
	if err := checkScale(scale); err != nil {
		return 0, fmt.Errorf("scene scale of %d cameras: %w", len(context), err)
	}
	return scale, nil
}

// BatchSceneScale returns one scale per batch entry of b.
func BatchSceneScale(b rigid.Batch) ([]float64, error) {
	out := make([]float64, b.Batches)
	for i := 0; i < b.Batches; i++ {
		s, err := SceneScale(b.Data[i*b.Views : (i+1)*b.Views])
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}
