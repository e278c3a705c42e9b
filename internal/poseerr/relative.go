package poseerr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pose.robustness/internal/rigid"
)

var (
	// ErrUnsupportedViewCount is returned by RelativePoseError for view
	// counts other than 2 or 3.
	ErrUnsupportedViewCount = errors.New("relative pose evaluation supports 2 or 3 views")

	// ErrZeroBaseline is returned when a relative translation has zero
	// length, leaving its direction undefined.
	ErrZeroBaseline = errors.New("zero-length relative translation")
)

// RelativeError is the relative-pose error of one scene.
type RelativeError struct {
	// RotationDeg is the mean geodesic error of the non-reference views.
	RotationDeg float64 `json:"rotation_angle"`
	// TranslationDeg is the mean angle between predicted and ground-truth
	// translation directions of the non-reference views.
	TranslationDeg float64 `json:"translation_angle"`
	// PerView holds the per-view values for views 1..N-1.
	PerViewRotationDeg    []float64 `json:"per_view_rotation_angle"`
	PerViewTranslationDeg []float64 `json:"per_view_translation_angle"`
}

// RelativePoseError compares pred against gt after expressing every view
// relative to view 0 (T_i ∘ T_0⁻¹). Translation is compared by direction
// only, since predicted poses are known up to scale.
//
// The convention is defined for two views (one non-reference view) and
// three views (the two non-reference views are averaged); other view
// counts return ErrUnsupportedViewCount.
func RelativePoseError(pred, gt []rigid.Transform) (RelativeError, error) {
	if len(pred) != len(gt) {
		return RelativeError{}, fmt.Errorf("relative pose: %d vs %d views: %w", len(pred), len(gt), ErrShapeMismatch)
	}

	var others int
	switch len(gt) {
	case 2:
		others = 1
	case 3:
		others = 2
	default:
		return RelativeError{}, fmt.Errorf("%d views: %w", len(gt), ErrUnsupportedViewCount)
	}

	predRef := pred[0].Inverse()
	gtRef := gt[0].Inverse()

	res := RelativeError{
		PerViewRotationDeg:    make([]float64, others),
		PerViewTranslationDeg: make([]float64, others),
	}
	for k := 0; k < others; k++ {
		p := rigid.Compose(pred[k+1], predRef)
		g := rigid.Compose(gt[k+1], gtRef)

		res.PerViewRotationDeg[k] = RotationAngleDeg(p.Rotation(), g.Rotation())

		angle, err := directionAngleDeg(p.Translation(), g.Translation())
		if err != nil {
			return RelativeError{}, fmt.Errorf("view %d: %w", k+1, err)
		}
		res.PerViewTranslationDeg[k] = angle
	}
	res.RotationDeg = stat.Mean(res.PerViewRotationDeg, nil)
	res.TranslationDeg = stat.Mean(res.PerViewTranslationDeg, nil)
	return res, nil
}

func directionAngleDeg(a, b r3.Vec) (float64, error) {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na == 0 || nb == 0 {
		return 0, ErrZeroBaseline
	}
	cos := r3.Dot(a, b) / (na * nb)
	return math.Acos(math.Max(-1, math.Min(1, cos))) * radToDeg, nil
}
