package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pict-recorder/api"
	"pict-recorder/camera"
	"pict-recorder/config"
	"pict-recorder/cron"
	"pict-recorder/database"
	"pict-recorder/logging"
	"pict-recorder/offline"
	"pict-recorder/recording"
	"pict-recorder/schedule"
	"pict-recorder/status"
	"pict-recorder/storage"
	"pict-recorder/transcode"
)

const shutdownGrace = 30 * time.Second

func main() {
	// .env is optional on the appliance; plain environment variables work too.
	envErr := godotenv.Load()

	boot := logging.Base()
	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := config.EnsurePaths(cfg); err != nil {
		boot.Fatal().Err(err).Msg("failed to create directories")
	}

	logging.Configure(logging.Config{
		Level:    cfg.LogLevel,
		FilePath: filepath.Join(cfg.RecordingsDir, "recorder.log"),
		MaxLines: cfg.LogMaxLines,
		Service:  "pict-recorder",
	})
	defer logging.Close()

	logger := logging.WithComponent("main")
	if envErr != nil {
		logger.Debug().Msg("no .env file, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("recorder exited with error")
		logging.Close()
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "pict"
	}

	var db database.Database
	if cfg.DatabasePath != "" {
		sqlite, err := database.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			logger.Warn().Err(err).Msg("recording history disabled")
		} else {
			db = sqlite
			defer sqlite.Close()
		}
	}

	store := status.NewStore()
	dev := camera.NewFFmpegDevice(cfg.Camera.Device, filepath.Join(cfg.RecordingsDir, "logs"), logging.WithComponent("ffmpeg"))
	cam := camera.NewManager(dev, camera.Settings{
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		FrameRate:      cfg.Camera.FrameRate,
		Quality:        cfg.Camera.Quality,
		PreviewQuality: cfg.Camera.PreviewQuality,
	}, logging.WithComponent("camera"), store.SetError)

	oracle := schedule.NewWittyPiOracle(cfg.WittyPiDirs, logging.WithComponent("wittypi"))
	logger.Info().Str("wittypi", oracle.String()).Str("mode", cfg.ModeDescription()).Msg("Starting PICT recorder")

	var watcher *schedule.Watcher
	var scheduleChanged <-chan struct{}
	if path := schedule.SchedulePath(cfg.WittyPiDirs); path != "" {
		watcher = schedule.NewWatcher(path, logging.WithComponent("schedule"))
		scheduleChanged = watcher.Changes()
	}

	orch := recording.New(recording.Options{
		RecordingsDir: cfg.RecordingsDir,
		Hostname:      hostname,
		Label:         cfg.Camera.AnnotationLabel,
		FileExtension: cfg.Camera.FileExtension,
		OpenAttempts:  cfg.Camera.OpenAttempts,
		OpenDelay:     cfg.Camera.OpenDelayDuration(),
		PollInterval:  cfg.CheckInterval(),
	}, recording.Deps{
		Store:  store,
		Camera: cam,
		Deadlines: schedule.External{
			Oracle:       oracle,
			SafetyMargin: cfg.SafetyMargin(),
			GuardBand:    cfg.GuardBand(),
		},
		Competing:       camera.NewCompetingService(cfg.RPiCamStopScripts, cfg.RPiCamProcessNames, logging.WithComponent("rpicam")),
		Post:            newPipeline(cfg, hostname, db),
		History:         db,
		ScheduleChanged: scheduleChanged,
		Logger:          logging.WithComponent("recording"),
	})

	if cfg.FixedDurationMode() {
		err = orch.StartFixedDuration(cfg.DurationSeconds)
	} else {
		err = orch.StartFollowSchedule()
	}
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	server := api.NewServer(cfg, orch, db, logging.WithComponent("api"))
	g.Go(func() error { return server.Start(gctx) })

	if watcher != nil {
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("schedule watcher stopped")
			}
			return nil
		})
	}

	if resources, err := cron.NewResourceCron(cfg.MonitorSchedule, cfg.RecordingsDir, logging.WithComponent("resources")); err != nil {
		logger.Warn().Err(err).Msg("resource monitor disabled")
	} else {
		g.Go(func() error { return resources.Start(gctx) })
	}
	if db != nil {
		reconcile := cron.NewReconcileCron(cfg.ReconcileSchedule, db, logging.WithComponent("reconcile"))
		g.Go(func() error { return reconcile.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return orch.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newPipeline assembles the post-processing stages that are enabled.
func newPipeline(cfg config.Config, hostname string, db database.Database) recording.PostProcessor {
	logger := logging.WithComponent("postprocess")
	p := &recording.Pipeline{History: db, Logger: logger}

	if cfg.MP4Wrap {
		p.Wrapper = transcode.NewWrapper(cfg.Camera.FrameRate, logger)
	}

	if cfg.R2Enabled {
		prefix := cfg.R2Prefix
		if prefix == "" {
			prefix = hostname
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
			logger.Warn().Err(err).Msg("upload disabled")
		} else {
			p.Uploader = r2
			p.Connectivity = offline.NewConnectivityChecker(r2.Endpoint(), logging.WithComponent("connectivity"))
		}
	}

	if p.Wrapper == nil && p.Uploader == nil {
		return nil
	}
	return p
}
