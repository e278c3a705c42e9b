package rigid

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tangent is an se(3) element: rotation sub-vector ω followed by the
// translation sub-vector u.
type Tangent [6]float64

// Omega returns the rotation sub-vector.
func (xi Tangent) Omega() r3.Vec { return r3.Vec{X: xi[0], Y: xi[1], Z: xi[2]} }

// U returns the translation sub-vector.
func (xi Tangent) U() r3.Vec { return r3.Vec{X: xi[3], Y: xi[4], Z: xi[5]} }

// Norm returns the Euclidean norm of all six components.
func (xi Tangent) Norm() float64 {
	var s float64
	for _, v := range xi {
		s += v * v
	}
	return math.Sqrt(s)
}

// Below this angle (radians) the Exp/Log coefficients are evaluated from
// their Taylor series.
const smallAngle = 1e-2

// Exp maps a tangent element to a rigid transform:
//
//	R = I + A·[ω]ₓ + B·[ω]ₓ²
//	V = I + B·[ω]ₓ + C·[ω]ₓ²
//	t = V·u
//
// with A = sin θ/θ, B = (1−cos θ)/θ², C = (θ−sin θ)/θ³ and θ = |ω|.
func Exp(xi Tangent) Transform {
	w := xi.Omega()
	theta := r3.Norm(w)
	a, b, c := coeffA(theta), coeffB(theta), coeffC(theta)

	var wx, wx2 r3.Mat
	wx.Skew(w)
	wx2.Mul(&wx, &wx)

	rot := linearCombination(a, &wx, b, &wx2)
	v := linearCombination(b, &wx, c, &wx2)
	return FromRotationTranslation(rot, v.MulVec(xi.U()))
}

// Log is the inverse of Exp for rotations with angle in [0, π]. At exactly
// π the rotation axis sign is ambiguous; either sign is returned.
func Log(t Transform) Tangent {
	rot := t.Rotation()
	w := logRotation(rot)
	theta := r3.Norm(w)

	// V⁻¹ = I − ½[ω]ₓ + D·[ω]ₓ², D = (1 − A/(2B))/θ²
	var d float64
	if theta < smallAngle {
		t2 := theta * theta
		d = 1.0/12 + t2/720 + t2*t2/30240
	} else {
		d = (1 - coeffA(theta)/(2*coeffB(theta))) / (theta * theta)
	}

	var wx, wx2 r3.Mat
	wx.Skew(w)
	wx2.Mul(&wx, &wx)
	vinv := linearCombination(-0.5, &wx, d, &wx2)
	u := vinv.MulVec(t.Translation())

	return Tangent{w.X, w.Y, w.Z, u.X, u.Y, u.Z}
}

// RotationAngle returns the rotation angle of a rotation matrix in radians,
// in [0, π]. The cosine is clipped to [−1, 1] before acos.
func RotationAngle(rot mat.Matrix) float64 {
	cos := (mat.Trace(rot) - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, cos)))
}

func logRotation(rot *r3.Mat) r3.Vec {
	theta := RotationAngle(rot)
	// vee(R − Rᵀ) = 2 sin θ · n
	vee := r3.Vec{
		X: rot.At(2, 1) - rot.At(1, 2),
		Y: rot.At(0, 2) - rot.At(2, 0),
		Z: rot.At(1, 0) - rot.At(0, 1),
	}
	switch {
	case theta < smallAngle:
		t2 := theta * theta
		// θ/(2 sin θ) ≈ ½ + θ²/12 + 7θ⁴/720
		return r3.Scale(0.5+t2/12+7*t2*t2/720, vee)
	case math.Pi-theta < smallAngle:
		// sin θ ≈ 0: recover the axis from the symmetric part,
		// (R + Rᵀ)/2 − cos θ·I = (1 − cos θ)·n·nᵀ, using the column with the
		// largest diagonal entry.
		var sym r3.Mat
		sym.Add(rot, rot.T())
		sym.Scale(0.5, &sym)
		cos := math.Cos(theta)
		for i := 0; i < 3; i++ {
			sym.Set(i, i, sym.At(i, i)-cos)
		}
		col := 0
		for j := 1; j < 3; j++ {
			if sym.At(j, j) > sym.At(col, col) {
				col = j
			}
		}
		n := r3.Unit(sym.VecCol(col))
		// keep the sign consistent with the residual antisymmetric part
		if r3.Dot(n, vee) < 0 {
			n = r3.Scale(-1, n)
		}
		return r3.Scale(theta, n)
	default:
		return r3.Scale(theta/(2*math.Sin(theta)), vee)
	}
}

// linearCombination returns I + a·X + b·Y.
func linearCombination(a float64, x *r3.Mat, b float64, y *r3.Mat) *r3.Mat {
	var ax, by r3.Mat
	ax.Scale(a, x)
	by.Scale(b, y)
	out := r3.Eye()
	out.Add(out, &ax)
	out.Add(out, &by)
	return out
}

// coeffA is sin θ/θ.
func coeffA(theta float64) float64 {
	if theta < smallAngle {
		t2 := theta * theta
		return 1 - t2/6 + t2*t2/120 - t2*t2*t2/5040
	}
	return math.Sin(theta) / theta
}

// coeffB is (1−cos θ)/θ².
func coeffB(theta float64) float64 {
	if theta < smallAngle {
		t2 := theta * theta
		return 0.5 - t2/24 + t2*t2/720 - t2*t2*t2/40320
	}
	return (1 - math.Cos(theta)) / (theta * theta)
}

// coeffC is (θ−sin θ)/θ³.
func coeffC(theta float64) float64 {
	if theta < smallAngle {
		t2 := theta * theta
		return 1.0/6 - t2/120 + t2*t2/5040 - t2*t2*t2/362880
	}
	return (theta - math.Sin(theta)) / (theta * theta * theta)
}
