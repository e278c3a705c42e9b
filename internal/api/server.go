// Package api serves stored evaluation runs, live sweep progress and the
// written report files over HTTP.
package api

import (
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/pose.robustness/internal/db"
	"github.com/banshee-data/pose.robustness/internal/httputil"
	"github.com/banshee-data/pose.robustness/internal/monitoring"
	"github.com/banshee-data/pose.robustness/internal/security"
	"github.com/banshee-data/pose.robustness/internal/sweep"
)

// Server exposes a read-only JSON API. Any of its sources may be nil or
// empty; their routes are then not registered.
type Server struct {
	store      *db.RunStore
	runner     *sweep.Runner
	reportsDir string
}

func NewServer(store *db.RunStore, runner *sweep.Runner, reportsDir string) *Server {
	return &Server{store: store, runner: runner, reportsDir: reportsDir}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("[%d] %s %s %vms", lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	if s.store != nil {
		mux.Handle("GET /api/runs", httputil.HandlerFunc(s.listRuns))
		mux.Handle("GET /api/runs/{id}", httputil.HandlerFunc(s.getRun))
		mux.Handle("GET /api/runs/{id}/scenes", httputil.HandlerFunc(s.listScenes))
		mux.Handle("GET /api/runs/{id}/points", httputil.HandlerFunc(s.listPoints))
	}
	if s.runner != nil {
		mux.Handle("GET /api/sweep/state", httputil.HandlerFunc(func(*http.Request) (any, error) {
			return s.runner.State(), nil
		}))
	}
	if s.reportsDir != "" {
		mux.HandleFunc("GET /api/reports/{file...}", s.serveReport)
	}
	return mux
}

func (s *Server) listRuns(r *http.Request) (any, error) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, httputil.Errorf(http.StatusBadRequest, "invalid limit %q", v)
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.URL.Query().Get("kind"), limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	return runs, nil
}

func (s *Server) getRun(r *http.Request) (any, error) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		return nil, httputil.Errorf(http.StatusNotFound, "%w", err)
	}
	return run, err
}

// sceneJSON mirrors db.SceneRecord with non-finite metrics as null.
type sceneJSON struct {
	Step       int                 `json:"step"`
	SceneID    string              `json:"scene"`
	Skipped    bool                `json:"skipped,omitempty"`
	SkipReason string              `json:"skip_reason,omitempty"`
	Metrics    map[string]*float64 `json:"metrics,omitempty"`
}

func (s *Server) listScenes(r *http.Request) (any, error) {
	id := r.PathValue("id")
	if _, err := s.getRun(r); err != nil {
		return nil, err
	}
	recs, err := s.store.ListSceneResults(id)
	if err != nil {
		return nil, err
	}
	out := make([]sceneJSON, len(recs))
	for i, rec := range recs {
		out[i] = sceneJSON{Step: rec.Step, SceneID: rec.SceneID, Skipped: rec.Skipped, SkipReason: rec.SkipReason}
		if rec.Metrics != nil {
			out[i].Metrics = make(map[string]*float64, len(rec.Metrics))
			for k, v := range rec.Metrics {
				if !math.IsNaN(v) {
					out[i].Metrics[k] = &v
				} else {
					out[i].Metrics[k] = nil
				}
			}
		}
	}
	return out, nil
}

func (s *Server) listPoints(r *http.Request) (any, error) {
	if _, err := s.getRun(r); err != nil {
		return nil, err
	}
	points, err := s.store.ListSweepPoints(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []sweep.PointResult{}
	}
	return points, nil
}

// serveReport serves a file written under the reports directory.
func (s *Server) serveReport(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.reportsDir, filepath.FromSlash(r.PathValue("file")))
	if err := security.ValidatePathWithinDirectory(path, s.reportsDir); err != nil {
		httputil.WriteError(w, httputil.Errorf(http.StatusForbidden, "%w", err))
		return
	}
	http.ServeFile(w, r, path)
}
