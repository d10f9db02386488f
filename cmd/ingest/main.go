package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dvloznov/payscan/internal/config"
	"github.com/dvloznov/payscan/internal/extraction"
	"github.com/dvloznov/payscan/internal/gcsuploader"
	"github.com/dvloznov/payscan/internal/importer"
	"github.com/dvloznov/payscan/internal/infra"
	"github.com/dvloznov/payscan/internal/jobs"
	"github.com/dvloznov/payscan/internal/jobs/inmemory"
	"github.com/dvloznov/payscan/internal/logger"
	"github.com/dvloznov/payscan/internal/records"
)

func main() {
	log := logger.New()

	// Import flags come first; anything after them is handed to the shared
	// server configuration (e.g. -- -store sqlite://payscan.db).
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of payment screenshots")
	gcsURIs := fs.String("gcs", "", "comma-separated gs:// screenshot URIs")
	owner := fs.String("owner", "", "user id the records belong to (required)")
	workers := fs.Int("workers", 4, "screenshots processed concurrently")
	rps := fs.Float64("rps", 1, "model calls per second across all workers (0 = unlimited)")
	allowDuplicates := fs.Bool("allow-duplicates", false, "store screenshots whose transaction id is already recorded")
	timeout := fs.Duration("timeout", 30*time.Minute, "overall import deadline")
	fs.Parse(os.Args[1:])

	if *dir == "" && *gcsURIs == "" {
		log.Fatal().Msg("Error: --dir or --gcs is required")
	}
	if *owner == "" {
		log.Fatal().Msg("Error: --owner is required")
	}

	cfg, err := config.Load(fs.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	var paths []string
	if *dir != "" {
		paths, err = importer.Scan(*dir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to scan screenshots")
		}
	}
	for _, uri := range strings.Split(*gcsURIs, ",") {
		if uri = strings.TrimSpace(uri); uri != "" {
			paths = append(paths, uri)
		}
	}
	if len(paths) == 0 {
		fmt.Println("No screenshots found.")
		return
	}

	counts, err := run(ctx, cfg, paths, runOptions{
		owner:           *owner,
		workers:         *workers,
		rps:             *rps,
		allowDuplicates: *allowDuplicates,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("Import failed")
		os.Exit(1)
	}

	fmt.Printf("Import finished: %d imported, %d skipped, %d failed.\n",
		counts[jobs.JobStatusCompleted], counts[jobs.JobStatusSkipped], counts[jobs.JobStatusFailed])
	if counts[jobs.JobStatusFailed] > 0 {
		os.Exit(1)
	}
}

type runOptions struct {
	owner           string
	workers         int
	rps             float64
	allowDuplicates bool
}

// run imports paths and returns the job counts per final status. Every
// resource it opens is closed before it returns.
func run(ctx context.Context, cfg *config.Config, paths []string, o runOptions, log zerolog.Logger) (map[jobs.JobStatus]int, error) {
	repo, err := infra.Open(ctx, cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("run: opening record store: %w", err)
	}
	defer repo.Close()

	gateway, err := extraction.NewGeminiGateway(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.ExtractTimeout)
	if err != nil {
		return nil, fmt.Errorf("run: creating Gemini client: %w", err)
	}

	opts := importer.Options{AllowDuplicates: o.allowDuplicates}
	if o.rps > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(o.rps), 1)
	}
	if cfg.Bucket != "" {
		archiver, err := gcsuploader.NewGCSArchiver(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("run: creating GCS client: %w", err)
		}
		defer archiver.Close()
		opts.Archiver = archiver
	}

	im := importer.New(gateway, records.NewService(repo, log), opts, log)

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(len(paths), o.workers, jobStore)
	if err := queue.Start(ctx, im.Handle); err != nil {
		return nil, fmt.Errorf("run: starting job consumer: %w", err)
	}

	log.Info().
		Str("owner_id", o.owner).
		Int("screenshots", len(paths)).
		Int("workers", o.workers).
		Msg("Starting import")

	for _, p := range paths {
		if err := queue.Publish(ctx, &jobs.ImportJob{OwnerID: o.owner, Path: p}); err != nil {
			log.Error().Err(err).Str("path", p).Msg("Failed to queue screenshot")
		}
	}

	if err := queue.Wait(ctx); err != nil {
		log.Error().Err(err).Msg("Import interrupted")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	list, err := jobStore.ListJobs(context.Background(), jobs.JobFilter{OwnerID: o.owner})
	if err != nil {
		return nil, fmt.Errorf("run: listing jobs: %w", err)
	}
	for _, j := range list {
		if j.Status == jobs.JobStatusFailed || j.Status == jobs.JobStatusSkipped {
			log.Warn().Str("path", j.Path).Str("status", string(j.Status)).Str("reason", j.Error).Msg("Screenshot not imported")
		}
	}
	return jobs.Tally(list), nil
}
