package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.robustness/internal/monitoring"
	"github.com/banshee-data/pose.robustness/internal/testutil"
)

func quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func smallRequest() Request {
	return Request{
		NoiseLevels: []float64{0, 0.02, 0.1},
		Trials:      20,
		Views:       3,
		Batches:     2,
		Seed:        7,
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr string
	}{
		{"no levels", func(r *Request) { r.NoiseLevels = nil }, "no noise levels"},
		{"negative level", func(r *Request) { r.NoiseLevels = []float64{-0.1} }, "invalid noise level"},
		{"zero trials", func(r *Request) { r.Trials = 0 }, "trials"},
		{"negative anchors", func(r *Request) { r.AnchorCount = -1 }, "anchor count"},
		{"one view", func(r *Request) { r.Views = 1 }, "views"},
		{"zero batches", func(r *Request) { r.Batches = 0 }, "batches"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := smallRequest()
			tt.mutate(&req)
			_, err := NewRunner().Run(context.Background(), req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunZeroNoise(t *testing.T) {
	quiet(t)
	req := smallRequest()
	req.NoiseLevels = []float64{0}

	res, err := NewRunner().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 0, res[0].RotMean, 1e-4)
	assert.InDelta(t, 0, res[0].TransMean, 1e-9)
	assert.Equal(t, req.Trials*req.Batches*req.Views, res[0].Samples)
}

func TestRunErrorGrowsWithNoise(t *testing.T) {
	quiet(t)
	res, err := NewRunner().Run(context.Background(), smallRequest())
	require.NoError(t, err)
	require.Len(t, res, 3)
	for i, l := range []float64{0, 0.02, 0.1} {
		assert.Equal(t, l, res[i].NoiseLevel)
	}
	assert.Greater(t, res[1].RotMean, res[0].RotMean)
	assert.Greater(t, res[2].RotMean, res[1].RotMean)
	assert.Greater(t, res[2].TransMean, res[1].TransMean)
	assert.Greater(t, res[2].RotMedian, 0.0)
}

func TestRunIndependentOfWorkers(t *testing.T) {
	quiet(t)
	req := smallRequest()
	req.Workers = 1
	one, err := NewRunner().Run(context.Background(), req)
	require.NoError(t, err)

	req.Workers = 3
	three, err := NewRunner().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, one, three)

	req.Seed = 8
	other, err := NewRunner().Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, one[2].RotMean, other[2].RotMean)
}

func TestRunExcludesAnchors(t *testing.T) {
	quiet(t)
	req := smallRequest()
	req.NoiseLevels = []float64{0.1}
	req.AnchorCount = 1

	res, err := NewRunner().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Trials*req.Batches*(req.Views-1), res[0].Samples)

	req.AnchorCount = 10
	res, err = NewRunner().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, res[0].Samples)
	assert.Zero(t, res[0].RotMean)
}

func TestRunWithGroundTruth(t *testing.T) {
	quiet(t)
	gt := testutil.RandomBatch(testutil.NewRand(3), 1, 4, 2)
	req := Request{NoiseLevels: []float64{0.05}, Trials: 5, Seed: 1, GroundTruth: &gt}

	res, err := NewRunner().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5*4, res[0].Samples)

	same := testutil.IdentityBatch(1, 3)
	req.GroundTruth = &same
	_, err = NewRunner().Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ground truth")
}

func TestRunCancelled(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner()
	_, err := r.Run(ctx, smallRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	st := r.State()
	assert.Equal(t, StatusError, st.Status)
	assert.NotEmpty(t, st.Error)
	assert.NotNil(t, st.CompletedAt)
}

func TestRunnerState(t *testing.T) {
	quiet(t)
	r := NewRunner()
	assert.Equal(t, StatusIdle, r.State().Status)

	res, err := r.Run(context.Background(), smallRequest())
	require.NoError(t, err)

	st := r.State()
	assert.Equal(t, StatusComplete, st.Status)
	assert.Equal(t, 3, st.TotalLevels)
	assert.Equal(t, 3, st.Completed)
	assert.Equal(t, res, st.Results)
	require.NotNil(t, st.StartedAt)
	assert.False(t, st.CompletedAt.Before(*st.StartedAt))

	st.Results[0].RotMean = 99
	assert.NotEqual(t, 99.0, r.State().Results[0].RotMean)
}

func TestLevelSeedDistinct(t *testing.T) {
	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		s := levelSeed(42, i)
		assert.False(t, seen[s], "duplicate seed at index %d", i)
		seen[s] = true
	}
	assert.Equal(t, levelSeed(42, 3), levelSeed(42, 3))
	assert.NotEqual(t, levelSeed(42, 3), levelSeed(43, 3))
}
