// Package testutil provides shared test utilities and pose fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pose.robustness/internal/rigid"
)

// NewRand returns a deterministic PCG-backed generator for tests.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomRotation returns a rotation about a random axis by an angle in [0, π).
func RandomRotation(rng *rand.Rand) *r3.Mat {
	axis := r3.Unit(r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()})
	angle := rng.Float64() * math.Pi
	return r3.NewRotation(angle, axis).Mat()
}

// RandomTransform returns a transform with a random rotation and a
// translation drawn uniformly from [-extent, extent]³.
func RandomTransform(rng *rand.Rand, extent float64) rigid.Transform {
	t := r3.Vec{
		X: (2*rng.Float64() - 1) * extent,
		Y: (2*rng.Float64() - 1) * extent,
		Z: (2*rng.Float64() - 1) * extent,
	}
	return rigid.FromRotationTranslation(RandomRotation(rng), t)
}

// RandomBatch returns a (batches, views) batch of random transforms.
func RandomBatch(rng *rand.Rand, batches, views int, extent float64) rigid.Batch {
	data := make([]rigid.Transform, batches*views)
	for i := range data {
		data[i] = RandomTransform(rng, extent)
	}
	return rigid.Batch{Batches: batches, Views: views, Data: data}
}

// IdentityBatch returns a (batches, views) batch of identity transforms.
func IdentityBatch(batches, views int) rigid.Batch {
	data := make([]rigid.Transform, batches*views)
	for i := range data {
		data[i] = rigid.Identity()
	}
	return rigid.Batch{Batches: batches, Views: views, Data: data}
}

// AssertTransformInDelta fails the test if any element of got differs from
// want by more than delta.
func AssertTransformInDelta(t *testing.T, want, got rigid.Transform, delta float64) {
	t.Helper()
	for i := range want {
		if math.Abs(want[i]-got[i]) > delta {
			t.Fatalf("transform element %d = %g, want %g (delta %g)\nwant %v\ngot  %v", i, got[i], want[i], delta, want, got)
		}
	}
}

// AssertVecInDelta fails the test if got differs from want by more than
// delta in any component.
func AssertVecInDelta(t *testing.T, want, got r3.Vec, delta float64) {
	t.Helper()
	if math.Abs(want.X-got.X) > delta || math.Abs(want.Y-got.Y) > delta || math.Abs(want.Z-got.Z) > delta {
		t.Fatalf("vector = %v, want %v (delta %g)", got, want, delta)
	}
}
