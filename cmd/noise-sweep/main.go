// Command noise-sweep measures initial pose error against perturbation
// noise level and writes CSV, JSON, PNG and HTML summaries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/pose.robustness/internal/api"
	"github.com/banshee-data/pose.robustness/internal/dataset"
	"github.com/banshee-data/pose.robustness/internal/db"
	"github.com/banshee-data/pose.robustness/internal/fsutil"
	"github.com/banshee-data/pose.robustness/internal/rigid"
	"github.com/banshee-data/pose.robustness/internal/sweep"
	"github.com/banshee-data/pose.robustness/internal/version"
)

var (
	noise       = flag.String("noise", "0.01,0.02,0.05,0.1,0.2", "Comma-separated noise levels")
	noiseRange  = flag.String("range", "", "Noise levels as min:max:step (overrides -noise)")
	trials      = flag.Int("trials", 100, "Noisy initialisations per noise level")
	views       = flag.Int("views", 3, "Views per batch entry of random ground truth")
	batches     = flag.Int("batches", 1, "Batch entries of random ground truth")
	anchors     = flag.Int("anchors", 0, "Leading poses kept at ground truth and excluded from statistics")
	seed        = flag.Uint64("seed", 0, "Base seed")
	workers     = flag.Int("workers", 1, "Noise levels evaluated concurrently")
	extent      = flag.Float64("extent", 1, "Half-width of the cube random camera positions are drawn from")
	scenesPath  = flag.String("scenes", "", "Scene index JSON; perturb the context poses of -scene instead of random poses")
	sceneID     = flag.String("scene", "", "Scene ID to use with -scenes (default: first scene)")
	output      = flag.String("output", "noise-sweep", "Output path prefix")
	dbPath      = flag.String("db", "", "SQLite database recording the sweep (disabled when empty)")
	listen      = flag.String("listen", "", "Serve sweep progress on this address while running")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("noise-sweep"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

// run executes the sweep described by the flags and writes its outputs.
// Resources are released before it returns.
func run(ctx context.Context) error {
	levelsArg := *noise
	if *noiseRange != "" {
		levelsArg = *noiseRange
	}
	levels, err := sweep.ParseNoiseLevels(levelsArg)
	if err != nil {
		return fmt.Errorf("invalid noise levels: %w", err)
	}

	req := sweep.Request{
		NoiseLevels: levels,
		Trials:      *trials,
		Views:       *views,
		Batches:     *batches,
		AnchorCount: *anchors,
		Seed:        *seed,
		Workers:     *workers,
		Extent:      *extent,
	}
	fsys := fsutil.OSFileSystem{}
	if *scenesPath != "" {
		gt, err := groundTruth(fsys, *scenesPath, *sceneID)
		if err != nil {
			return fmt.Errorf("failed to load ground truth: %w", err)
		}
		req.GroundTruth = gt
	}

	var store *db.RunStore
	var rec *db.Run
	if *dbPath != "" {
		database, err := db.OpenDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		store = db.NewRunStore(database)

		reqJSON, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rec = &db.Run{Kind: db.KindSweep, RunName: filepath.Base(*output), ConfigJSON: reqJSON}
		if err := store.InsertRun(rec); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
	}

	runner := sweep.NewRunner()
	if *listen != "" {
		server := &http.Server{Addr: *listen, Handler: api.LoggingMiddleware(api.NewServer(store, runner, "").ServeMux())}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("progress server stopped: %v", err)
			}
		}()
		defer server.Close()
		log.Printf("serving sweep progress on %s", *listen)
	}

	log.Printf("sweeping %d noise levels, %d trials each", len(levels), req.Trials)
	start := time.Now()
	results, runErr := runner.Run(ctx, req)
	if store != nil {
		if runErr == nil {
			if err := store.InsertSweepPoints(rec.RunID, results); err != nil {
				log.Printf("failed to record sweep points: %v", err)
			}
		}
		if err := store.CompleteRun(rec.RunID, runner.State(), runErr); err != nil {
			log.Printf("failed to complete run: %v", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("sweep failed: %w", runErr)
	}
	log.Printf("sweep finished in %v", time.Since(start).Round(time.Millisecond))

	if err := writeOutputs(fsys, *output, req, results); err != nil {
		return fmt.Errorf("failed to write outputs: %w", err)
	}
	return nil
}

// groundTruth returns the context poses of one scene as a single batch entry.
func groundTruth(fsys fsutil.FileSystem, path, id string) (*rigid.Batch, error) {
	scenes, err := dataset.LoadScenes(fsys, path)
	if err != nil {
		return nil, err
	}
	for _, s := range scenes {
		if id == "" || s.ID == id {
			b, err := rigid.NewBatch(1, len(s.Context), s.Context)
			if err != nil {
				return nil, err
			}
			log.Printf("perturbing %d context poses of scene %s", len(s.Context), s.ID)
			return &b, nil
		}
	}
	return nil, fmt.Errorf("scene %q not found in %s", id, path)
}

func writeOutputs(fsys fsutil.FileSystem, prefix string, req sweep.Request, results []sweep.PointResult) error {
	if dir := filepath.Dir(prefix); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := fsys.Create(prefix + ".csv")
	if err != nil {
		return err
	}
	if err := sweep.WriteCSV(f, results); err != nil {
		f.Close()
		return fmt.Errorf("csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := sweep.WriteReportJSON(fsys, prefix+".json", req, results); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if err := sweep.WritePlotPNG(fsys, prefix+".png", results); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	if err := sweep.WriteHTML(fsys, prefix+".html", results); err != nil {
		return fmt.Errorf("html: %w", err)
	}
	log.Printf("wrote %s.{csv,json,png,html}", prefix)
	return nil
}
