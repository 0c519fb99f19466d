package cron

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pict-recorder/database"
)

const reconcileBatch = 500

// ReconcileCron marks history rows whose recording file has disappeared,
// e.g. after an operator removed it over SSH.
type ReconcileCron struct {
	cron     *cron.Cron
	schedule string
	db       database.Database
	logger   zerolog.Logger
}

// NewReconcileCron creates the reconcile job for db.
func NewReconcileCron(schedule string, db database.Database, logger zerolog.Logger) *ReconcileCron {
	return &ReconcileCron{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		db:       db,
		logger:   logger,
	}
}

// Start runs one pass immediately, then on schedule until ctx is cancelled.
func (r *ReconcileCron) Start(ctx context.Context) error {
	r.logger.Info().Str("schedule", r.schedule).Msg("Starting recordings reconcile cron job")

	if _, err := r.cron.AddFunc(r.schedule, func() { r.Reconcile() }); err != nil {
		return err
	}
	r.cron.Start()
	r.Reconcile()

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info().Msg("Stopped recordings reconcile cron job")
	return nil
}

// Reconcile checks every ready row against the filesystem and returns how
// many were marked deleted.
func (r *ReconcileCron) Reconcile() int {
	rows, err := r.db.GetRecordingsByStatus(database.StatusReady, reconcileBatch, 0)
	if err != nil {
		r.logger.Error().Err(err).Msg("reconcile: list recordings")
		return 0
	}

	marked := 0
	for _, rec := range rows {
		_, err := os.Stat(rec.LocalPath)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := r.db.MarkDeleted(rec.ID); err != nil {
			r.logger.Warn().Err(err).Str("id", rec.ID).Msg("reconcile: mark deleted")
			continue
		}
		marked++
	}
	if marked > 0 {
		r.logger.Info().Int("marked", marked).Msg("Marked missing recordings as deleted")
	}
	return marked
}
