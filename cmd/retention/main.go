// cmd/retention/main.go
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/dangerclosesec/strategist/internal/config"
	"github.com/dangerclosesec/strategist/internal/database"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/service"
)

func main() {
	// Command line flags
	var (
		batchSize = flag.Int("batch-size", 0, "Number of organizations to process in a batch (default from RETENTION_BATCH_SIZE)")
		dryRun    = flag.Bool("dry-run", false, "Report what would be purged without deleting")
		timeout   = flag.Duration("timeout", 30*time.Minute, "Maximum time to run the purge")
	)
	flag.Parse()

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slogger := slog.New(logHandler)
	slog.SetDefault(slogger)

	cfg, err := config.Load()
	if err != nil {
		slogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, mode, err := database.Open(cfg)
	if err != nil {
		slogger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close(db)

	retention := service.NewRetentionService(
		repository.NewDirectory(db, mode),
		repository.NewStore(db, mode),
		0, // one-shot run
		slogger,
	)

	size := cfg.Retention.BatchSize
	if *batchSize > 0 {
		size = *batchSize
	}
	retention.SetBatchSize(size)
	retention.SetDryRun(*dryRun)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := retention.PurgeAll(ctx)
	if err != nil {
		slogger.Error("retention purge failed", "error", err)
		os.Exit(1)
	}

	slogger.Info("retention purge completed",
		"organizations", report.Organizations,
		"purged", report.Purged,
		"dry_run", report.DryRun,
	)
}
