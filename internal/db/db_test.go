package db

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.robustness/internal/eval"
	"github.com/banshee-data/pose.robustness/internal/sweep"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDBMigrates(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"eval_runs", "scene_results", "sweep_points"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='eval_runs'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestRunLifecycle(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	run := &Run{Kind: KindEval, RunName: "pose-eval", ConfigJSON: json.RawMessage(`{"seed":3}`)}
	require.NoError(t, store.InsertRun(run))
	require.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.StartedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)
	assert.JSONEq(t, `{"seed":3}`, string(got.ConfigJSON))
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, store.CompleteRun(run.RunID, map[string]any{"psnr": 31.5}, nil))
	got, err = store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunComplete, got.Status)
	assert.JSONEq(t, `{"psnr":31.5}`, string(got.SummaryJSON))
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestCompleteRunFailed(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := &Run{Kind: KindSweep, RunName: "s"}
	require.NoError(t, store.InsertRun(run))
	require.NoError(t, store.CompleteRun(run.RunID, nil, errors.New("boom")))

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.SummaryJSON)
}

func TestRunNotFound(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	_, err := store.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.CompleteRun("missing", nil, nil), ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	for i, kind := range []string{KindEval, KindSweep, KindEval} {
		require.NoError(t, store.InsertRun(&Run{Kind: kind, RunName: kind, StartedAt: int64(i + 1)}))
	}

	all, err := store.ListRuns("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].StartedAt)

	evals, err := store.ListRuns(KindEval, 10)
	require.NoError(t, err)
	assert.Len(t, evals, 2)

	limited, err := store.ListRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSceneResults(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := &Run{Kind: KindEval, RunName: "e"}
	require.NoError(t, store.InsertRun(run))

	results := []eval.SceneResult{
		{SceneID: "a", Metrics: map[string]float64{eval.MetricMeanRotationError: 1.5, "psnr": math.Inf(1)}},
		{SceneID: "b", Skipped: true, SkipReason: "no predicted poses"},
	}
	require.NoError(t, store.InsertSceneResults(run.RunID, results))

	got, err := store.ListSceneResults(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Step)
	assert.Equal(t, "a", got[0].SceneID)
	assert.Equal(t, 1.5, got[0].Metrics[eval.MetricMeanRotationError])
	assert.True(t, math.IsNaN(got[0].Metrics["psnr"]))
	assert.True(t, got[1].Skipped)
	assert.Equal(t, "no predicted poses", got[1].SkipReason)
	assert.Nil(t, got[1].Metrics)

	// Results need an existing run.
	assert.Error(t, store.InsertSceneResults("missing", results))
}

func TestSweepPoints(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := &Run{Kind: KindSweep, RunName: "sweep"}
	require.NoError(t, store.InsertRun(run))

	points := []sweep.PointResult{
		{NoiseLevel: 0.1, RotMean: 5, RotStd: 1, RotMedian: 4.8, TransMean: 0.2, TransStd: 0.05, TransMedian: 0.19, Trials: 10, Samples: 30},
		{NoiseLevel: 0.01, RotMean: 0.5, RotStd: 0.1, RotMedian: 0.48, TransMean: 0.02, TransStd: 0.005, TransMedian: 0.019, Trials: 10, Samples: 30},
	}
	require.NoError(t, store.InsertSweepPoints(run.RunID, points))

	got, err := store.ListSweepPoints(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, points[1], got[0])
	assert.Equal(t, points[0], got[1])
}

func TestIsSQLiteBusy(t *testing.T) {
	assert.False(t, isSQLiteBusy(nil))
	assert.True(t, isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isSQLiteBusy(errors.New("SQLITE_BUSY")))
	assert.False(t, isSQLiteBusy(errors.New("some other error")))
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(func() error {
		calls++
		return errors.New("constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackupRoute(t *testing.T) {
	db := openTestDB(t)
	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x1f, 0x8b}, rec.Body.Bytes()[:2])
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	for _, path := range []string{"/debug/tailsql/", "/debug/backup"} {
		_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, path, pattern)
	}
}
