package rigid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.robustness/internal/rigid"
	"github.com/banshee-data/pose.robustness/internal/testutil"
)

func TestNewBatchShapeChecks(t *testing.T) {
	t.Parallel()

	_, err := rigid.NewBatch(2, 2, make([]rigid.Transform, 3))
	assert.Error(t, err)

	_, err = rigid.NewBatch(-1, 2, nil)
	assert.Error(t, err)

	b, err := rigid.NewBatch(0, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestBatchIndexingAndReshape(t *testing.T) {
	t.Parallel()

	rng := testutil.NewRand(11)
	b := testutil.RandomBatch(rng, 2, 3, 1)

	flat := b.Flatten()
	require.Len(t, flat, 6)
	assert.Equal(t, b.At(1, 0), flat[3])

	// Flatten returns a copy.
	flat[0] = rigid.Identity()
	assert.NotEqual(t, flat[0], b.At(0, 0))

	h, err := rigid.Reshape(2, 3, b.Flatten())
	require.NoError(t, err)
	assert.Equal(t, 2, h.Batches)
	assert.Equal(t, 3, h.Views)
	assert.Equal(t, b.At(1, 2).Homogeneous(), h.At(1, 2))
	assert.Equal(t, b, h.Truncate())

	_, err = rigid.Reshape(4, 4, b.Flatten())
	assert.Error(t, err)
}

func TestBatchViewSlice(t *testing.T) {
	t.Parallel()

	rng := testutil.NewRand(12)
	b := testutil.RandomBatch(rng, 2, 4, 1)

	s := b.ViewSlice(2)
	assert.Equal(t, 2, s.Batches)
	assert.Equal(t, 2, s.Views)
	assert.Equal(t, b.At(1, 1), s.At(1, 1))
	assert.Equal(t, b.At(0, 0), s.At(0, 0))

	assert.Equal(t, 4, b.ViewSlice(10).Views)
}
