// Package schedule computes session stop deadlines, either from a fixed
// duration or from the next shutdown announced by the Witty Pi board.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fixed duration bounds in seconds.
const (
	MinDurationSeconds = 1
	MaxDurationSeconds = 18000
)

var (
	// ErrInvalidDuration is returned for a duration outside [1, 18000] seconds.
	ErrInvalidDuration = fmt.Errorf("seconds must be integer %d..%d", MinDurationSeconds, MaxDurationSeconds)
	// ErrNoWindow means there is no shutdown scheduled far enough ahead.
	ErrNoWindow = errors.New("no recording window available")
)

// ValidateDuration checks seconds against the fixed-duration bounds.
func ValidateDuration(seconds int) error {
	if seconds < MinDurationSeconds || seconds > MaxDurationSeconds {
		return fmt.Errorf("%w (got %d)", ErrInvalidDuration, seconds)
	}
	return nil
}

// Fixed returns now + seconds after validating the duration.
func Fixed(now time.Time, seconds int) (time.Time, error) {
	if err := ValidateDuration(seconds); err != nil {
		return time.Time{}, err
	}
	return now.Add(time.Duration(seconds) * time.Second), nil
}

// Oracle reports the next externally scheduled shutdown. A nil time with a
// nil error means no schedule is available.
type Oracle interface {
	NextShutdown(ctx context.Context) (*time.Time, error)
}

// Window is a recording window derived from the external schedule.
type Window struct {
	NextShutdown time.Time
	StopAt       time.Time
}

// External derives windows from an Oracle. The guard band keeps the loop from
// opening the camera for a session that would have to stop almost at once.
type External struct {
	Oracle       Oracle
	SafetyMargin time.Duration
	GuardBand    time.Duration
}

// Next polls the oracle once. It returns ErrNoWindow when no shutdown is
// scheduled or when the remaining time does not exceed margin + guard band.
// Oracle errors are reported to the caller wrapped in ErrNoWindow.
func (e External) Next(ctx context.Context, now time.Time) (Window, error) {
	if e.Oracle == nil {
		return Window{}, ErrNoWindow
	}
	next, err := e.Oracle.NextShutdown(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %w", ErrNoWindow, err)
	}
	if next == nil {
		return Window{}, ErrNoWindow
	}
	remaining := next.Sub(now)
	if remaining <= e.SafetyMargin+e.GuardBand {
		return Window{NextShutdown: *next}, fmt.Errorf("%w: shutdown at %s is only %s away", ErrNoWindow,
			next.Format(time.DateTime), remaining.Truncate(time.Second))
	}
	return Window{
		NextShutdown: *next,
		StopAt:       next.Add(-e.SafetyMargin),
	}, nil
}
