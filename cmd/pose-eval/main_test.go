package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.robustness/internal/db"
	"github.com/banshee-data/pose.robustness/internal/eval"
)

const testScenes = `{
  "scenes": [
    {
      "scene": "room-1",
      "context": {"extrinsics": [
        [1,0,0,0, 0,1,0,0, 0,0,1,0],
        [1,0,0,1, 0,1,0,0, 0,0,1,0],
        [1,0,0,0, 0,1,0,2, 0,0,1,0]
      ]}
    },
    {
      "scene": "room-2",
      "context": {"extrinsics": [
        [1,0,0,0, 0,1,0,0, 0,0,1,0],
        [1,0,0,0, 0,1,0,0, 0,0,1,3]
      ]}
    }
  ]
}`

// setFlag overrides a package-level flag value for the duration of the test.
func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

// setupRun writes a scene index and config to a temp dir and points the
// flags at them. It returns the temp dir.
func setupRun(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()

	scenes := filepath.Join(dir, "scenes.json")
	require.NoError(t, os.WriteFile(scenes, []byte(testScenes), 0o644))

	cfg := filepath.Join(dir, "eval.json")
	body := `{"noisy_pose": true, "noise_level": 0.05, "seed": 4, "output_path": "` +
		filepath.Join(dir, "out") + `", "run_name": "` + name + `"}`
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))

	setFlag(t, scenesPath, scenes)
	setFlag(t, configPath, cfg)
	setFlag(t, dbPath, filepath.Join(dir, "runs.db"))
	setFlag(t, listen, "")
	return dir
}

func openRuns(t *testing.T, path string) *db.RunStore {
	t.Helper()
	database, err := db.OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return db.NewRunStore(database)
}

func TestRunRecordsSceneResults(t *testing.T) {
	dir := setupRun(t, "ok")

	require.NoError(t, run(context.Background()))

	assert.FileExists(t, filepath.Join(dir, "out", "ok", eval.AverageScoresFile))
	assert.FileExists(t, filepath.Join(dir, "out", "ok", eval.BenchmarkFile))
	// The last connection closing removes the write-ahead log.
	assert.NoFileExists(t, *dbPath+"-wal")

	store := openRuns(t, *dbPath)
	runs, err := store.ListRuns(db.KindEval, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunComplete, runs[0].Status)

	scenes, err := store.ListSceneResults(runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, scenes, 2)
}

func TestRunFailureClosesDatabase(t *testing.T) {
	setupRun(t, "cancelled")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "evaluation failed")
	assert.NoFileExists(t, *dbPath+"-wal")

	runs, err := openRuns(t, *dbPath).ListRuns(db.KindEval, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "canceled")
}

func TestRunRejectsMissingScenes(t *testing.T) {
	dir := setupRun(t, "missing")
	setFlag(t, scenesPath, filepath.Join(dir, "nope.json"))

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load scenes")
	assert.NoFileExists(t, *dbPath)
}
