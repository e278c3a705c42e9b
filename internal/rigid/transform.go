// Package rigid implements the rigid-motion algebra used for camera
// extrinsics: 3×4 world-to-camera transforms, their composition, and the
// SE(3) exponential and logarithm maps.
//
// Transforms are stored row-major as [R|t]. The package never validates
// that R is a proper rotation; callers that read poses from external data
// should check with ValidateTransform first.
package rigid

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a world-to-camera rigid transform stored as a row-major
// 3×4 matrix:
//
//	r00 r01 r02 t0
//	r10 r11 r12 t1
//	r20 r21 r22 t2
type Transform [12]float64

// Homogeneous is a row-major 4×4 transform with bottom row [0 0 0 1].
type Homogeneous [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

// FromRotationTranslation builds a transform from a 3×3 rotation block and
// a translation vector.
func FromRotationTranslation(rot *r3.Mat, t r3.Vec) Transform {
	return Transform{
		rot.At(0, 0), rot.At(0, 1), rot.At(0, 2), t.X,
		rot.At(1, 0), rot.At(1, 1), rot.At(1, 2), t.Y,
		rot.At(2, 0), rot.At(2, 1), rot.At(2, 2), t.Z,
	}
}

// FromHomogeneous drops the bottom row of a 4×4 transform.
func FromHomogeneous(h Homogeneous) Transform {
	var t Transform
	copy(t[:], h[:12])
	return t
}

// Rotation returns a copy of the 3×3 rotation block.
func (t Transform) Rotation() *r3.Mat {
	return r3.NewMat([]float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	})
}

// Translation returns the translation column.
func (t Transform) Translation() r3.Vec {
	return r3.Vec{X: t[3], Y: t[7], Z: t[11]}
}

// Apply maps a world point into the camera frame: R·p + t.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0]*p.X + t[1]*p.Y + t[2]*p.Z + t[3],
		Y: t[4]*p.X + t[5]*p.Y + t[6]*p.Z + t[7],
		Z: t[8]*p.X + t[9]*p.Y + t[10]*p.Z + t[11],
	}
}

// Homogeneous pads the transform with a [0 0 0 1] bottom row.
func (t Transform) Homogeneous() Homogeneous {
	var h Homogeneous
	copy(h[:12], t[:])
	h[15] = 1
	return h
}

// Inverse returns the camera-to-world transform [Rᵀ | −Rᵀ·t].
func (t Transform) Inverse() Transform {
	rot := t.Rotation()
	var rt r3.Mat
	rt.CloneFrom(rot.T())
	return FromRotationTranslation(&rt, t.Center())
}

// Center returns the camera center in world coordinates, −Rᵀ·t.
func (t Transform) Center() r3.Vec {
	return r3.Scale(-1, t.Rotation().MulVecTrans(t.Translation()))
}

// Compose returns the composition of the given transforms in function
// composition order: Compose(A, B).Apply(p) == A.Apply(B.Apply(p)).
// The last transform is applied first. Compose() is the identity.
func Compose(ts ...Transform) Transform {
	out := Identity()
	for i := len(ts) - 1; i >= 0; i-- {
		out = composePair(ts[i], out)
	}
	return out
}

// composePair returns a ∘ b: R = Ra·Rb, t = Ra·tb + ta.
func composePair(a, b Transform) Transform {
	var rot r3.Mat
	rot.Mul(a.Rotation(), b.Rotation())
	t := r3.Add(a.Rotation().MulVec(b.Translation()), a.Translation())
	return FromRotationTranslation(&rot, t)
}
