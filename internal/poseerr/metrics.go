// Package poseerr measures how far one set of camera poses is from another:
// geodesic rotation error, scale-normalised camera-center error and the
// relative-pose angles used when comparing predicted extrinsics against
// ground truth.
//
// All functions are stateless and safe for concurrent use. Inputs are
// assumed finite; NaN or Inf values propagate into the outputs.
package poseerr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pose.robustness/internal/rigid"
)

var (
	// ErrShapeMismatch is returned when two pose sets differ in length.
	ErrShapeMismatch = errors.New("pose batch size mismatch")

	// ErrDegenerateScale is returned for a scene scale that is not a
	// positive finite number.
	ErrDegenerateScale = errors.New("scene scale must be positive and finite")
)

const radToDeg = 180 / math.Pi

// RotationAngleDeg returns the geodesic distance between two rotations in
// degrees: the rotation angle of r1·r2ᵀ, in [0, 180].
func RotationAngleDeg(r1, r2 *r3.Mat) float64 {
	var rel r3.Mat
	rel.Mul(r1, r2.T())
	return rigid.RotationAngle(&rel) * radToDeg
}

// RotationErrors returns the per-pair geodesic angle in degrees between
// corresponding rotations of r1 and r2.
func RotationErrors(r1, r2 []*r3.Mat) ([]float64, error) {
	if len(r1) != len(r2) {
		return nil, fmt.Errorf("rotation error: %d vs %d rotations: %w", len(r1), len(r2), ErrShapeMismatch)
	}
	out := make([]float64, len(r1))
	for i := range r1 {
		out[i] = RotationAngleDeg(r1[i], r2[i])
	}
	return out, nil
}

// TranslationErrors recovers the camera centers −Rᵀ·t of both pose sets and
// returns their Euclidean distances divided by scale, together with the
// raw, unnormalised distances.
func TranslationErrors(r1 []*r3.Mat, t1 []r3.Vec, r2 []*r3.Mat, t2 []r3.Vec, scale float64) (normalized, raw []float64, err error) {
	if err := checkScale(scale); err != nil {
		return nil, nil, err
	}
	n := len(r1)
	if len(t1) != n || len(r2) != n || len(t2) != n {
		return nil, nil, fmt.Errorf("translation error: lengths %d/%d/%d/%d: %w",
			len(r1), len(t1), len(r2), len(t2), ErrShapeMismatch)
	}

	normalized = make([]float64, n)
	raw = make([]float64, n)
	for i := 0; i < n; i++ {
		c1 := r3.Scale(-1, r1[i].MulVecTrans(t1[i]))
		c2 := r3.Scale(-1, r2[i].MulVecTrans(t2[i]))
		raw[i] = r3.Norm(r3.Sub(c1, c2))
		normalized[i] = raw[i] / scale
	}
	return normalized, raw, nil
}

// Errors holds the per-pose errors between two pose sets.
type Errors struct {
	RotationDeg []float64 `json:"rotation_deg"`
	// Translation is the camera-center distance divided by the scene scale.
	Translation    []float64 `json:"translation"`
	TranslationRaw []float64 `json:"translation_raw"`
}

// Compare computes rotation and translation errors between corresponding
// transforms of a and b.
func Compare(a, b []rigid.Transform, scale float64) (Errors, error) {
	if len(a) != len(b) {
		return Errors{}, fmt.Errorf("compare: %d vs %d poses: %w", len(a), len(b), ErrShapeMismatch)
	}
	ra, ta := split(a)
	rb, tb := split(b)

	rot, err := RotationErrors(ra, rb)
	if err != nil {
		return Errors{}, err
	}
	trans, raw, err := TranslationErrors(ra, ta, rb, tb, scale)
	if err != nil {
		return Errors{}, err
	}
	return Errors{RotationDeg: rot, Translation: trans, TranslationRaw: raw}, nil
}

func split(ts []rigid.Transform) ([]*r3.Mat, []r3.Vec) {
	rots := make([]*r3.Mat, len(ts))
	trans := make([]r3.Vec, len(ts))
	for i, t := range ts {
		rots[i] = t.Rotation()
		trans[i] = t.Translation()
	}
	return rots, trans
}

func checkScale(scale float64) error {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return fmt.Errorf("scale %v: %w", scale, ErrDegenerateScale)
	}
	return nil
}
