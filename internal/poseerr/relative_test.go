package poseerr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pose.robustness/internal/poseerr"
	"github.com/banshee-data/pose.robustness/internal/rigid"
	"github.com/banshee-data/pose.robustness/internal/testutil"
)

func translation(x, y, z float64) rigid.Transform {
	return rigid.FromRotationTranslation(r3.Eye(), r3.Vec{X: x, Y: y, Z: z})
}

func TestSceneScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		context []rigid.Transform
		want    float64
	}{
		{
			name:    "two cameras on x axis",
			context: []rigid.Transform{translation(-1, 0, 0), translation(1, 0, 0)},
			want:    1,
		},
		{
			name:    "off-centre cluster",
			context: []rigid.Transform{translation(0, 0, 0), translation(0, 0, 0), translation(-3, 0, 0)},
			want:    2,
		},
		{
			name: "rotated cameras use centers",
			context: []rigid.Transform{
				rigid.FromRotationTranslation(rotZ(180), r3.Vec{X: 1}),
				translation(1, 0, 0),
			},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := poseerr.SceneScale(tt.context)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestSceneScaleDegenerate(t *testing.T) {
	t.Parallel()

	_, err := poseerr.SceneScale(nil)
	assert.ErrorIs(t, err, poseerr.ErrDegenerateScale)

	_, err = poseerr.SceneScale([]rigid.Transform{translation(1, 2, 3), translation(1, 2, 3)})
	assert.ErrorIs(t, err, poseerr.ErrDegenerateScale)

	_, err = poseerr.SceneScale([]rigid.Transform{translation(1, 2, 3)})
	assert.ErrorIs(t, err, poseerr.ErrDegenerateScale)
}

func TestBatchSceneScale(t *testing.T) {
	t.Parallel()

	b := rigid.Batch{Batches: 2, Views: 2, Data: []rigid.Transform{
		translation(-1, 0, 0), translation(1, 0, 0),
		translation(0, -4, 0), translation(0, 4, 0),
	}}
	got, err := poseerr.BatchSceneScale(b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 4}, got, 1e-12)

	_, err = poseerr.BatchSceneScale(testutil.IdentityBatch(1, 2))
	assert.ErrorIs(t, err, poseerr.ErrDegenerateScale)
}

func TestRelativePoseErrorIdentical(t *testing.T) {
	t.Parallel()
	rng := testutil.NewRand(31)

	for _, views := range []int{2, 3} {
		gt := testutil.RandomBatch(rng, 1, views, 2).Flatten()
		res, err := poseerr.RelativePoseError(gt, gt)
		require.NoError(t, err)
		assert.InDelta(t, 0, res.RotationDeg, 1e-5)
		assert.InDelta(t, 0, res.TranslationDeg, 1e-5)
		assert.Len(t, res.PerViewRotationDeg, views-1)
	}
}

func TestRelativePoseErrorKnownAngles(t *testing.T) {
	t.Parallel()

	gt := []rigid.Transform{rigid.Identity(), translation(1, 0, 0)}
	pred := []rigid.Transform{
		rigid.Identity(),
		rigid.FromRotationTranslation(rotZ(30), r3.Vec{Y: 1}),
	}
	res, err := poseerr.RelativePoseError(pred, gt)
	require.NoError(t, err)
	assert.InDelta(t, 30, res.RotationDeg, 1e-9)
	assert.InDelta(t, 90, res.TranslationDeg, 1e-9)
}

func TestRelativePoseErrorThreeViewsAverages(t *testing.T) {
	t.Parallel()

	gt := []rigid.Transform{rigid.Identity(), translation(1, 0, 0), translation(0, 1, 0)}
	pred := []rigid.Transform{
		rigid.Identity(),
		rigid.FromRotationTranslation(rotZ(20), r3.Vec{X: 1}),
		rigid.FromRotationTranslation(r3.Eye(), r3.Vec{X: 1}),
	}
	res, err := poseerr.RelativePoseError(pred, gt)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{20, 0}, res.PerViewRotationDeg, 1e-9)
	assert.InDeltaSlice(t, []float64{0, 90}, res.PerViewTranslationDeg, 1e-9)
	assert.InDelta(t, 10, res.RotationDeg, 1e-9)
	assert.InDelta(t, 45, res.TranslationDeg, 1e-9)
}

func TestRelativePoseErrorInvariantToWorldFrameAndScale(t *testing.T) {
	t.Parallel()
	rng := testutil.NewRand(32)

	gt := testutil.RandomBatch(rng, 1, 3, 2).Flatten()
	pred := testutil.RandomBatch(rng, 1, 3, 2).Flatten()
	base, err := poseerr.RelativePoseError(pred, gt)
	require.NoError(t, err)

	// Re-expressing the predicted world frame and rescaling it leaves the
	// relative errors unchanged.
	world := testutil.RandomTransform(rng, 5)
	moved := make([]rigid.Transform, len(pred))
	for i, p := range pred {
		m := rigid.Compose(p, world)
		moved[i] = rigid.FromRotationTranslation(m.Rotation(), r3.Scale(3.5, m.Translation()))
	}
	got, err := poseerr.RelativePoseError(moved, gt)
	require.NoError(t, err)
	assert.InDelta(t, base.RotationDeg, got.RotationDeg, 1e-6)
	assert.InDelta(t, base.TranslationDeg, got.TranslationDeg, 1e-6)
}

func TestRelativePoseErrorFailures(t *testing.T) {
	t.Parallel()
	rng := testutil.NewRand(33)

	four := testutil.RandomBatch(rng, 1, 4, 1).Flatten()
	_, err := poseerr.RelativePoseError(four, four)
	assert.ErrorIs(t, err, poseerr.ErrUnsupportedViewCount)

	one := four[:1]
	_, err = poseerr.RelativePoseError(one, one)
	assert.ErrorIs(t, err, poseerr.ErrUnsupportedViewCount)

	_, err = poseerr.RelativePoseError(four[:2], four[:3])
	assert.ErrorIs(t, err, poseerr.ErrShapeMismatch)

	same := []rigid.Transform{rigid.Identity(), rigid.Identity()}
	_, err = poseerr.RelativePoseError(same, same)
	assert.ErrorIs(t, err, poseerr.ErrZeroBaseline)
}
