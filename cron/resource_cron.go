package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pict-recorder/monitoring"
)

// lowDiskPercent triggers a warning on the recordings filesystem.
const lowDiskPercent = 90.0

// ResourceCron logs process and host resource usage on a schedule.
type ResourceCron struct {
	cron     *cron.Cron
	schedule string
	monitor  *monitoring.ProcessMonitor
	diskPath string
	logger   zerolog.Logger
}

// NewResourceCron creates the resource usage job. schedule uses the six-field
// (seconds) cron format.
func NewResourceCron(schedule, diskPath string, logger zerolog.Logger) (*ResourceCron, error) {
	monitor, err := monitoring.NewProcessMonitor(logger)
	if err != nil {
		return nil, err
	}
	return &ResourceCron{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		monitor:  monitor,
		diskPath: diskPath,
		logger:   logger,
	}, nil
}

// Start runs the job until ctx is cancelled.
func (r *ResourceCron) Start(ctx context.Context) error {
	r.logger.Info().Str("schedule", r.schedule).Msg("Starting resource usage cron job")

	if _, err := r.cron.AddFunc(r.schedule, func() { r.run(ctx) }); err != nil {
		return err
	}
	r.cron.Start()

	<-ctx.Done()
	r.Stop()
	return nil
}

// Stop stops the scheduler and waits for a running job.
func (r *ResourceCron) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info().Msg("Stopped resource usage cron job")
}

func (r *ResourceCron) run(ctx context.Context) {
	r.monitor.LogUsage()

	info := monitoring.Snapshot(ctx, r.diskPath, 0)
	if d := info.Disk; d != nil && d.UsedPercent >= lowDiskPercent {
		r.logger.Warn().Float64("used_pct", d.UsedPercent).Str("path", d.Path).Msg("Recordings disk nearly full")
	}
	r.logger.Debug().Msg(info.String())
}

// Entries reports the scheduled run times, mostly for tests.
func (r *ResourceCron) Entries() []time.Time {
	var out []time.Time
	for _, e := range r.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}
