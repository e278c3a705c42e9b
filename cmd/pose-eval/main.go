// Command pose-eval runs the pose evaluation harness over a scene index and
// writes score, timing and pose-error reports.
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
	"syscall"
	"time"

	"github.com/banshee-data/pose.robustness/internal/api"
	"github.com/banshee-data/pose.robustness/internal/config"
	"github.com/banshee-data/pose.robustness/internal/dataset"
	"github.com/banshee-data/pose.robustness/internal/db"
	"github.com/banshee-data/pose.robustness/internal/eval"
	"github.com/banshee-data/pose.robustness/internal/fsutil"
	"github.com/banshee-data/pose.robustness/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to an evaluation config JSON file (defaults built in)")
	scenesPath  = flag.String("scenes", "", "Path to the scene index JSON (required)")
	predPath    = flag.String("pred-poses", "", "Path to a predicted-pose table JSON; context poses are replaced by it")
	noisy       = flag.Bool("noisy", false, "Replace context poses with perturbed ground truth")
	noiseLevel  = flag.Float64("noise-level", 0.05, "Standard deviation of the se(3) perturbation")
	anchors     = flag.Int("anchors", 0, "Number of leading poses kept at ground truth")
	seed        = flag.Uint64("seed", 0, "Seed for the perturbation generator")
	workers     = flag.Int("workers", 1, "Number of scenes evaluated concurrently")
	relative    = flag.Bool("relative", false, "Record relative pose angles of the rendering context")
	skipSteps   = flag.Int("skip-steps", 0, "Leading scenes excluded from averaged timings")
	outputPath  = flag.String("output", "", "Output directory root")
	runName     = flag.String("name", "", "Run name; reports go to <output>/<name>")
	dbPath      = flag.String("db", "", "SQLite database recording the run (disabled when empty)")
	listen      = flag.String("listen", "", "Serve the results API and debug routes on this address after the run")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("pose-eval"))
		return
	}
	if *scenesPath == "" {
		flag.Usage()
		log.Fatal("-scenes is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

// run evaluates the scene index, records the run when -db is set and serves
// the results when -listen is set. Resources are released before it returns.
func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fsys := fsutil.OSFileSystem{}
	scenes, err := dataset.LoadScenes(fsys, *scenesPath)
	if err != nil {
		return fmt.Errorf("failed to load scenes: %w", err)
	}
	log.Printf("loaded %d scenes from %s", len(scenes), *scenesPath)

	hc := eval.HarnessConfigFrom(cfg)
	hc.FS = fsys
	if *predPath != "" {
		pred, err := dataset.LoadPredictedPoses(fsys, *predPath)
		if err != nil {
			return fmt.Errorf("failed to load predicted poses: %w", err)
		}
		hc.PredictedPoses = pred
		log.Printf("loaded predicted poses for %d scenes", len(pred))
	}
	harness, err := eval.NewHarness(hc)
	if err != nil {
		return fmt.Errorf("failed to create harness: %w", err)
	}

	var (
		database *db.DB
		store    *db.RunStore
		rec      *db.Run
	)
	if *dbPath != "" {
		database, err = db.OpenDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		store = db.NewRunStore(database)

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		rec = &db.Run{Kind: db.KindEval, RunName: cfg.GetRunName(), ConfigJSON: cfgJSON}
		if err := store.InsertRun(rec); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		log.Printf("recording run %s in %s", rec.RunID, *dbPath)
	}

	start := time.Now()
	results, runErr := harness.Run(ctx, scenes, cfg.GetWorkers())
	summary := harness.Summary()
	if runErr == nil {
		if _, err := harness.Finish(); err != nil {
			runErr = fmt.Errorf("write reports: %w", err)
		} else {
			log.Printf("evaluated %d scenes in %v, reports in %s", len(results), time.Since(start).Round(time.Millisecond), harness.OutputDir())
		}
	}

	if store != nil {
		if runErr == nil {
			if err := store.InsertSceneResults(rec.RunID, results); err != nil {
				log.Printf("failed to record scene results: %v", err)
			}
		}
		if err := store.CompleteRun(rec.RunID, summary, runErr); err != nil {
			log.Printf("failed to complete run: %v", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("evaluation failed: %w", runErr)
	}

	if *listen != "" {
		return serve(ctx, *listen, api.NewServer(store, nil, cfg.GetOutputPath()), database)
	}
	return nil
}

// loadConfig reads -config (or the built-in defaults) and applies the flags
// that were set explicitly on the command line.
func loadConfig() (*config.EvalConfig, error) {
	cfg := config.DefaultEvalConfig()
	if *configPath != "" {
		loaded, err := config.LoadEvalConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "noisy":
			cfg.NoisyPose = noisy
		case "noise-level":
			cfg.NoiseLevel = noiseLevel
		case "anchors":
			cfg.AnchorCount = anchors
		case "seed":
			cfg.Seed = seed
		case "workers":
			cfg.Workers = workers
		case "relative":
			cfg.RelativePoseEval = relative
		case "skip-steps":
			cfg.EvalTimeSkipSteps = skipSteps
		case "output":
			cfg.OutputPath = outputPath
		case "name":
			cfg.RunName = runName
		}
	})
	return cfg, cfg.Validate()
}

// serve blocks until ctx is cancelled or the listener fails.
func serve(ctx context.Context, addr string, srv *api.Server, database *db.DB) error {
	mux := srv.ServeMux()
	if database != nil {
		database.AttachAdminRoutes(mux)
	}
	server := &http.Server{Addr: addr, Handler: api.LoggingMiddleware(mux)}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("failed to start server: %w", err)
		}
	}()
	log.Printf("serving results on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shut down HTTP server: %v", err)
	}
	return nil
}
