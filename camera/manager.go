package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pict-recorder/metrics"
)

// Manager holds the single camera handle. Every device call happens under mu.
type Manager struct {
	mu       sync.Mutex
	dev      Device
	settings Settings
	open     bool
	active   TargetKind

	logger  zerolog.Logger
	onError func(msg string)
}

// NewManager wraps dev. onError, if set, receives the last-error message
// when the camera cannot be opened.
func NewManager(dev Device, s Settings, logger zerolog.Logger, onError func(string)) *Manager {
	return &Manager{
		dev:      dev,
		settings: s,
		logger:   logger,
		onError:  onError,
	}
}

// AcquireWithRetry opens the device, trying up to maxAttempts times and
// waiting delay after each failed attempt. It returns immediately if the
// camera is already open.
func (m *Manager) AcquireWithRetry(ctx context.Context, maxAttempts int, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := m.dev.Open(ctx, m.settings)
		if err == nil {
			m.open = true
			metrics.CameraOpenAttempts.WithLabelValues("ok").Inc()
			m.logger.Info().Int("attempt", attempt).Msg("Camera opened")
			return nil
		}
		lastErr = err
		metrics.CameraOpenAttempts.WithLabelValues("error").Inc()
		m.logger.Warn().Err(err).Msgf("Camera open failed (attempt %d/%d)", attempt, maxAttempts)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			m.recordError(ErrCameraUnavailable.Error())
			return fmt.Errorf("%w: %w", ErrCameraUnavailable, ctx.Err())
		case <-t.C:
		}
	}

	m.recordError(ErrCameraUnavailable.Error())
	return fmt.Errorf("%w: %w", ErrCameraUnavailable, lastErr)
}

func (m *Manager) recordError(msg string) {
	if m.onError != nil {
		m.onError(msg)
	}
}

// Release stops any write target and closes the device. Close faults are
// logged and swallowed since no caller can act on them.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return
	}
	if m.active != TargetNone {
		if err := m.dev.StopWrite(); err != nil {
			m.logger.Warn().Err(err).Msg("stop write during release")
		}
		m.active = TargetNone
	}
	if err := m.dev.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("camera close failed")
	} else {
		m.logger.Info().Msg("Camera closed")
	}
	m.open = false
}

// SetOverlay is best effort and a no-op when the camera is closed.
func (m *Manager) SetOverlay(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return
	}
	if err := m.dev.SetOverlay(text); err != nil {
		m.logger.Debug().Err(err).Msg("overlay update failed")
	}
}

// BeginWrite starts sending frames to t.
func (m *Manager) BeginWrite(t Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	if m.active != TargetNone {
		return fmt.Errorf("%w (%s)", ErrWriteActive, m.active)
	}
	if err := m.dev.StartWrite(t); err != nil {
		return fmt.Errorf("start %s write: %w", t.Kind, err)
	}
	m.active = t.Kind
	return nil
}

// Step blocks for up to maxBlock while frames flow to the active target.
func (m *Manager) Step(ctx context.Context, maxBlock time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	err := m.dev.Block(ctx, maxBlock)
	if err != nil && errors.Is(err, ErrDeviceLost) {
		m.active = TargetNone
	}
	return err
}

// EndWrite stops the active target; it is safe to call with none active.
func (m *Manager) EndWrite() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open || m.active == TargetNone {
		return nil
	}
	kind := m.active
	m.active = TargetNone
	if err := m.dev.StopWrite(); err != nil {
		return fmt.Errorf("stop %s write: %w", kind, err)
	}
	return nil
}

// IsOpen reports whether the device is open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// ActiveTarget reports the kind of the current write target.
func (m *Manager) ActiveTarget() TargetKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Settings returns the capture settings.
func (m *Manager) Settings() Settings {
	return m.settings
}
