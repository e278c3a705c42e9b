package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/pose.robustness/internal/rigid"
)

func TestRandomTransformIsProper(t *testing.T) {
	t.Parallel()

	rng := NewRand(7)
	for i := 0; i < 50; i++ {
		tr := RandomTransform(rng, 5)
		assert.True(t, rigid.IsValidRotation(tr, 1e-9), "transform %d: %v", i, tr)
	}
}

func TestNewRandIsDeterministic(t *testing.T) {
	t.Parallel()

	a, b := NewRand(42), NewRand(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestIdentityBatch(t *testing.T) {
	t.Parallel()

	b := IdentityBatch(2, 3)
	assert.Equal(t, 6, b.Len())
	AssertTransformInDelta(t, rigid.Identity(), b.At(1, 2), 0)
}
