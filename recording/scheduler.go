package recording

import (
	"context"
	"fmt"
	"time"

	"pict-recorder/status"
)

// followSchedule polls the deadline source and records each window it
// returns. It runs until ctx is cancelled. A window whose session the operator
// stopped is not recorded again; a later shutdown time opens a new one.
func (o *Orchestrator) followSchedule(ctx context.Context, t *task) error {
	defer o.store.SetMode(status.ModeIdle)
	o.logger.Info().Dur("poll_interval", o.opts.PollInterval).Msg("Following external schedule")

	var lastReason string
	var dismissed time.Time
	for ctx.Err() == nil {
		o.store.SetMode(status.ModeWaiting)

		w, err := o.deadlines.Next(ctx, time.Now())
		if err == nil && !dismissed.IsZero() && !w.NextShutdown.After(dismissed) {
			err = fmt.Errorf("window ending %s was stopped by operator", w.NextShutdown.Format(time.DateTime))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Repeated reasons are logged once.
			if msg := err.Error(); msg != lastReason {
				lastReason = msg
				o.logger.Info().Msgf("Waiting: %s", msg)
			}
			sleep(ctx, o.opts.PollInterval, o.changed, nil)
			continue
		}
		lastReason = ""

		if !t.enterSession() {
			return nil
		}
		o.logger.Info().
			Str("next_shutdown", w.NextShutdown.Format(time.DateTime)).
			Str("stop_at", w.StopAt.Format(time.DateTime)).
			Msg("Recording window found")
		sess := o.runSession(ctx, t, status.ModeRecordingSchedule, w.StopAt)
		t.exitSession()

		switch {
		case sess.Reason == reasonStopped:
			dismissed = w.NextShutdown
			o.logger.Info().Msg("Session stopped by operator; waiting for the next scheduled window")
		case sess.Reason == reasonStartFailed || sess.Reason == reasonDeviceLost:
			// A camera that failed is retried after one poll interval.
			sleep(ctx, o.opts.PollInterval, nil, nil)
		}
	}
	return nil
}
