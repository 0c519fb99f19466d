// Command upload pushes finished recordings that have no remote copy yet to
// R2, for use after a period without network.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"pict-recorder/config"
	"pict-recorder/database"
	"pict-recorder/logging"
	"pict-recorder/offline"
	"pict-recorder/storage"
)

func main() {
	envFile := flag.String("env", ".env", "Path to .env file")
	limit := flag.Int("limit", 100, "Maximum number of recordings to upload")
	dryRun := flag.Bool("dry-run", false, "List pending uploads without sending them")
	flag.Parse()

	envErr := godotenv.Load(*envFile)
	logging.Configure(logging.Config{Output: zerolog.ConsoleWriter{Out: os.Stderr}, Service: "pict-upload"})
	logger := logging.WithComponent("upload")
	if envErr != nil {
		logger.Warn().Str("path", *envFile).Msg(".env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.R2AccessKey == "" || cfg.R2SecretKey == "" || cfg.R2Bucket == "" {
		logger.Fatal().Msg("R2 credentials not set in environment variables")
	}

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open recording history")
	}
	defer db.Close()

	prefix := cfg.R2Prefix
	if prefix == "" {
		prefix, _ = os.Hostname()
	}
	r2, err := storage.NewR2Storage(storage.R2Config{
		AccessKey: cfg.R2AccessKey,
		SecretKey: cfg.R2SecretKey,
		AccountID: cfg.R2AccountID,
		Bucket:    cfg.R2Bucket,
		Endpoint:  cfg.R2Endpoint,
		Region:    cfg.R2Region,
		BaseURL:   cfg.R2BaseURL,
		Prefix:    prefix,
	}, logging.WithComponent("r2"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize R2 storage")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*dryRun && !offline.NewConnectivityChecker(r2.Endpoint(), logger).IsOnline(ctx) {
		logger.Fatal().Msg("no network route to the upload endpoint")
	}

	rows, err := db.GetRecordingsByStatus(database.StatusReady, *limit, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list recordings")
	}

	uploaded, failed := 0, 0
	for _, rec := range rows {
		if rec.RemoteURL != "" {
			continue
		}
		if _, err := os.Stat(rec.LocalPath); err != nil {
			logger.Warn().Str("file", rec.FileName).Msg("Skipping missing file")
			continue
		}
		if *dryRun {
			logger.Info().Str("file", rec.FileName).Str("key", r2.RemoteKey(rec.LocalPath)).Msg("Would upload")
			continue
		}
		url, err := r2.UploadFile(ctx, rec.LocalPath, r2.RemoteKey(rec.LocalPath))
		if err != nil {
			logger.Error().Err(err).Str("file", rec.FileName).Msg("Upload failed")
			failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if err := db.SetRemoteURL(rec.ID, url); err != nil {
			logger.Warn().Err(err).Str("file", rec.FileName).Msg("history update failed")
		}
		logger.Info().Str("file", rec.FileName).Str("url", url).Msg("Uploaded")
		uploaded++
	}

	logger.Info().Int("uploaded", uploaded).Int("failed", failed).Msg("Upload complete")
	if failed > 0 {
		os.Exit(1)
	}
}
