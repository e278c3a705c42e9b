package rigid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotationTolerance is the default tolerance for orthonormality and
// determinant checks on rotation blocks.
const RotationTolerance = 1e-3

// ValidationResult contains the result of transform validation.
type ValidationResult struct {
	Valid  bool
	Issues []string
}

// ValidateTransform checks that t holds finite values and a proper rotation
// block (RᵀR ≈ I, det R ≈ +1) within tol. A non-positive tol selects
// RotationTolerance.
func ValidateTransform(t Transform, tol float64) ValidationResult {
	if tol <= 0 {
		tol = RotationTolerance
	}
	result := ValidationResult{Valid: true, Issues: make([]string, 0)}

	for i, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			result.Valid = false
			result.Issues = append(result.Issues, fmt.Sprintf("non-finite value at element %d", i))
		}
	}
	if !result.Valid {
		return result
	}

	rot := t.Rotation()
	if det := rot.Det(); math.Abs(det-1) > tol {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("rotation determinant %.6f, want 1", det))
	}

	var rtr r3.Mat
	rtr.Mul(rot.T(), rot)
	var diff r3.Mat
	diff.Sub(&rtr, r3.Eye())
	if dev := mat.Norm(&diff, math.Inf(1)); dev > tol {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("rotation not orthonormal (max row deviation %.6f)", dev))
	}

	return result
}

// IsValidRotation reports whether the rotation block of t is a proper
// rotation within tol.
func IsValidRotation(t Transform, tol float64) bool {
	return ValidateTransform(t, tol).Valid
}

// IsValidHomogeneous additionally requires the bottom row to be [0 0 0 1].
func IsValidHomogeneous(h Homogeneous, tol float64) bool {
	if tol <= 0 {
		tol = RotationTolerance
	}
	if h[12] != 0 || h[13] != 0 || h[14] != 0 || math.Abs(h[15]-1) > tol {
		return false
	}
	return IsValidRotation(FromHomogeneous(h), tol)
}
