package recording

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pict-recorder/camera"
	"pict-recorder/database"
	"pict-recorder/metrics"
	"pict-recorder/status"
)

// State is a recording session's lifecycle phase.
type State int

const (
	StateStarting State = iota
	StateActive
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "closed"
	}
}

// Session is one bounded recording pass.
type Session struct {
	ID         string
	Mode       status.Mode
	OutputPath string
	StartedAt  time.Time
	StopTarget time.Time
	EndedAt    time.Time
	// Reason is why the session left Active: deadline, stopped, shutdown or
	// device_lost. Sessions that never reached Active carry start_failed.
	Reason string
	Err    error
}

// Result labels used for metrics and history.
const (
	reasonDeadline    = "deadline"
	reasonStopped     = "stopped"
	reasonShutdown    = "shutdown"
	reasonDeviceLost  = "device_lost"
	reasonStartFailed = "start_failed"
)

// OutputPath names a recording after the host and its start time.
func OutputPath(dir, hostname, ext string, start time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", hostname, start.Format("20060102_150405"), ext))
}

// overlayText is the annotation refreshed once per tick.
func (o *Orchestrator) overlayText(now time.Time, remaining time.Duration) string {
	rem := int(math.Round(remaining.Seconds()))
	if rem < 0 {
		rem = 0
	}
	s := o.cam.Settings()
	return fmt.Sprintf("%s (%s)\n%s | %dx%d @ %dfps | Q=%d | rem %ds",
		o.opts.Label, o.opts.Hostname,
		now.Format(time.DateTime),
		s.Width, s.Height, s.FrameRate, s.Quality, rem)
}

// runSession drives one session through Starting, Active, Stopping and
// Closed. The camera is released on every path out of this function, and t
// is marked ended before the outcome is recorded.
func (o *Orchestrator) runSession(ctx context.Context, t *task, mode status.Mode, stopAt time.Time) Session {
	sess := Session{
		ID:         uuid.NewString(),
		Mode:       mode,
		StopTarget: stopAt,
		OutputPath: OutputPath(o.opts.RecordingsDir, o.opts.Hostname, o.opts.FileExtension, time.Now()),
	}
	log := o.logger.With().Str("session", sess.ID).Str("mode", string(mode)).Logger()
	log.Info().Msgf("Recording -> %s (stop at %s)", filepath.Base(sess.OutputPath), stopAt.Format(time.RFC3339))

	o.claimCamera()
	defer o.unclaimCamera()
	o.cancel.Clear()

	// Starting
	if err := o.start(ctx, &sess); err != nil {
		sess.EndedAt = time.Now()
		sess.Reason = reasonStartFailed
		sess.Err = err
		log.Error().Err(err).Str("state", StateStarting.String()).Msg("aborting recording")
		t.endSession()
		o.finish(sess)
		return sess
	}

	o.store.BeginSession(mode, sess.ID, sess.OutputPath, sess.StartedAt, stopAt)
	metrics.Recording.Set(1)
	o.recordStart(sess)

	// Active
	sess.Reason = o.active(ctx, &sess)

	// Stopping
	log.Info().Str("reason", sess.Reason).Msg("Recording stopped; closing camera.")
	if err := o.cam.EndWrite(); err != nil {
		log.Warn().Err(err).Msg("end write failed")
		o.store.SetError(err.Error())
		if sess.Err == nil {
			sess.Err = err
		}
	}
	o.cam.Release()
	sess.EndedAt = time.Now()

	// Closed
	o.store.EndSession()
	metrics.Recording.Set(0)
	t.endSession()
	o.finish(sess)
	return sess
}

func (o *Orchestrator) start(ctx context.Context, sess *Session) error {
	o.competing.Deactivate(ctx)
	o.stopPreview()

	if err := o.cam.AcquireWithRetry(ctx, o.opts.OpenAttempts, o.opts.OpenDelay); err != nil {
		return err
	}
	if err := o.cam.BeginWrite(camera.FileTarget(sess.OutputPath)); err != nil {
		o.store.SetError(fmt.Sprintf("start_recording failed: %v", err))
		o.cam.Release()
		return err
	}
	sess.StartedAt = time.Now()
	return nil
}

func (o *Orchestrator) active(ctx context.Context, sess *Session) string {
	for {
		now := time.Now()
		remaining := sess.StopTarget.Sub(now)
		o.cam.SetOverlay(o.overlayText(now, remaining))

		switch {
		case remaining <= 0:
			return reasonDeadline
		case ctx.Err() != nil:
			return reasonShutdown
		case o.cancel.IsSet():
			return reasonStopped
		}

		step := min(o.opts.Tick, remaining)
		begin := time.Now()
		err := o.cam.Step(ctx, step)
		if err == nil || ctx.Err() != nil {
			continue
		}
		if errors.Is(err, camera.ErrDeviceLost) {
			o.store.SetError(err.Error())
			sess.Err = err
			return reasonDeviceLost
		}
		o.logger.Warn().Err(err).Str("session", sess.ID).Msg("recording step fault")
		sleep(ctx, step-time.Since(begin), o.cancel.Done(), nil)
	}
}

func (o *Orchestrator) recordStart(sess Session) {
	if o.history == nil {
		return
	}
	err := o.history.CreateRecording(database.Recording{
		ID:         sess.ID,
		LocalPath:  sess.OutputPath,
		Mode:       string(sess.Mode),
		Status:     database.StatusRecording,
		StartedAt:  sess.StartedAt,
		StopTarget: sess.StopTarget,
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("history insert failed")
	}
}

// finish records the outcome and hands a produced artifact to the
// post-processor.
func (o *Orchestrator) finish(sess Session) {
	metrics.SessionsTotal.WithLabelValues(string(sess.Mode), sess.Reason).Inc()
	if sess.Reason == reasonStartFailed {
		return
	}
	metrics.SessionDuration.WithLabelValues(string(sess.Mode)).Observe(sess.EndedAt.Sub(sess.StartedAt).Seconds())

	var size int64
	if info, err := os.Stat(sess.OutputPath); err == nil {
		size = info.Size()
	}
	if o.history != nil {
		st, msg := database.StatusReady, ""
		if size == 0 {
			st = database.StatusFailed
			msg = "empty recording"
		}
		if sess.Err != nil {
			msg = sess.Err.Error()
		}
		if err := o.history.FinishRecording(sess.ID, st, size, msg); err != nil {
			o.logger.Warn().Err(err).Msg("history update failed")
		}
	}
	if size > 0 {
		o.postProcess(sess)
	}
}
