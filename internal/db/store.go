package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pose.robustness/internal/eval"
	"github.com/banshee-data/pose.robustness/internal/sweep"
)

// Run kinds.
const (
	KindEval  = "eval"
	KindSweep = "sweep"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one evaluation or sweep invocation.
type Run struct {
	RunID       string          `json:"run_id"`
	Kind        string          `json:"kind"`
	RunName     string          `json:"run_name"`
	ConfigJSON  json.RawMessage `json:"config,omitempty"`
	Status      string          `json:"status"`
	SummaryJSON json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   int64           `json:"started_at"`
	CompletedAt *int64          `json:"completed_at,omitempty"`
}

// SceneRecord is a stored per-scene harness result.
type SceneRecord struct {
	Step       int
	SceneID    string
	Skipped    bool
	SkipReason string
	// Metrics holds NaN for values that were not finite when stored.
	Metrics map[string]float64
}

// RunStore persists runs and their per-scene or per-level results.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore on db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// InsertRun stores a new running run. If RunID is empty a UUID is
// generated; StartedAt defaults to now.
func (s *RunStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO eval_runs (run_id, kind, run_name, config_json, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Kind, run.RunName, nullableJSON(run.ConfigJSON), run.Status, run.StartedAt,
		)
		return err
	})
}

// CompleteRun marks a run finished. A non-nil runErr marks it failed.
func (s *RunStore) CompleteRun(runID string, summary any, runErr error) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		if summaryJSON, err = json.Marshal(summary); err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
	}
	status, msg := RunComplete, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}

	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE eval_runs SET status = ?, summary_json = ?, error = ?, completed_at = ?
			WHERE run_id = ?`,
			status, nullableJSON(summaryJSON), msg, time.Now().UnixNano(), runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("complete run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, kind, run_name, config_json, status, summary_json, error, started_at, completed_at`

// GetRun returns the run with the given ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM eval_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs of kind, or of every kind when
// kind is empty, newest first.
func (s *RunStore) ListRuns(kind string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+` FROM eval_runs
		WHERE ? = '' OR kind = ?
		ORDER BY started_at DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                 Run
		config, summary, ms sql.NullString
		completed           sql.NullInt64
	)
	err := sc.Scan(&run.RunID, &run.Kind, &run.RunName, &config, &run.Status, &summary, &ms, &run.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	if config.Valid {
		run.ConfigJSON = json.RawMessage(config.String)
	}
	if summary.Valid {
		run.SummaryJSON = json.RawMessage(summary.String)
	}
	run.Error = ms.String
	if completed.Valid {
		run.CompletedAt = &completed.Int64
	}
	return &run, nil
}

// InsertSceneResults stores harness results in step order for runID.
func (s *RunStore) InsertSceneResults(runID string, results []eval.SceneResult) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO scene_results (run_id, step, scene_id, skipped, skip_reason, metrics_json)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for step, res := range results {
			metrics, err := encodeMetrics(res.Metrics)
			if err != nil {
				return fmt.Errorf("scene %s: %w", res.SceneID, err)
			}
			if _, err := stmt.Exec(runID, step, res.SceneID, res.Skipped, res.SkipReason, metrics); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListSceneResults returns the stored scene results of runID in step order.
func (s *RunStore) ListSceneResults(runID string) ([]SceneRecord, error) {
	rows, err := s.db.Query(`
		SELECT step, scene_id, skipped, skip_reason, metrics_json
		FROM scene_results WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SceneRecord
	for rows.Next() {
		var (
			rec     SceneRecord
			reason  sql.NullString
			metrics sql.NullString
		)
		if err := rows.Scan(&rec.Step, &rec.SceneID, &rec.Skipped, &reason, &metrics); err != nil {
			return nil, err
		}
		rec.SkipReason = reason.String
		if metrics.Valid {
			if rec.Metrics, err = decodeMetrics(metrics.String); err != nil {
				return nil, fmt.Errorf("scene %s: %w", rec.SceneID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertSweepPoints stores the per-level results of a sweep run.
func (s *RunStore) InsertSweepPoints(runID string, points []sweep.PointResult) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO sweep_points (
				run_id, noise_level, rot_mean, rot_std, rot_median,
				trans_mean, trans_std, trans_median, trials, samples
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.Exec(runID, p.NoiseLevel, p.RotMean, p.RotStd, p.RotMedian,
				p.TransMean, p.TransStd, p.TransMedian, p.Trials, p.Samples); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListSweepPoints returns the stored points of runID by noise level.
func (s *RunStore) ListSweepPoints(runID string) ([]sweep.PointResult, error) {
	rows, err := s.db.Query(`
		SELECT noise_level, rot_mean, rot_std, rot_median,
		       trans_mean, trans_std, trans_median, trials, samples
		FROM sweep_points WHERE run_id = ? ORDER BY noise_level`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sweep.PointResult
	for rows.Next() {
		var p sweep.PointResult
		if err := rows.Scan(&p.NoiseLevel, &p.RotMean, &p.RotStd, &p.RotMedian,
			&p.TransMean, &p.TransStd, &p.TransMedian, &p.Trials, &p.Samples); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// encodeMetrics stores non-finite values as null.
func encodeMetrics(m map[string]float64) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	safe := make(map[string]*float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			safe[k] = nil
			continue
		}
		safe[k] = &v
	}
	b, err := json.Marshal(safe)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMetrics(s string) (map[string]float64, error) {
	var raw map[string]*float64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *v
	}
	return out, nil
}
