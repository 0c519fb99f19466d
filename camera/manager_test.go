package camera

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(dev Device) (*Manager, *string) {
	var lastErr string
	m := NewManager(dev, Settings{Width: 640, Height: 480, FrameRate: 15}, zerolog.Nop(), func(msg string) {
		lastErr = msg
	})
	return m, &lastErr
}

func TestAcquireWithRetryAlwaysFailing(t *testing.T) {
	dev := NewFakeDevice()
	dev.OpenFailures = -1
	m, lastErr := newTestManager(dev)

	delay := 20 * time.Millisecond
	err := m.AcquireWithRetry(context.Background(), 3, delay)
	require.ErrorIs(t, err, ErrCameraUnavailable)
	assert.NotEmpty(t, *lastErr)
	assert.False(t, m.IsOpen())

	calls := dev.OpenCalls()
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), delay)
	}
}

func TestAcquireWithRetryRecovers(t *testing.T) {
	dev := NewFakeDevice()
	dev.OpenFailures = 2
	m, lastErr := newTestManager(dev)

	require.NoError(t, m.AcquireWithRetry(context.Background(), 4, time.Millisecond))
	assert.True(t, m.IsOpen())
	assert.Len(t, dev.OpenCalls(), 3)
	assert.Empty(t, *lastErr)
}

func TestAcquireIsIdempotent(t *testing.T) {
	dev := NewFakeDevice()
	m, _ := newTestManager(dev)

	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	assert.Len(t, dev.OpenCalls(), 1)
}

func TestAcquireStopsOnContextCancel(t *testing.T) {
	dev := NewFakeDevice()
	dev.OpenFailures = -1
	m, _ := newTestManager(dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.AcquireWithRetry(ctx, 5, time.Second)
	require.ErrorIs(t, err, ErrCameraUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, dev.OpenCalls(), 1)
}

func TestBeginWriteRequiresOpenCamera(t *testing.T) {
	m, _ := newTestManager(NewFakeDevice())
	err := m.BeginWrite(StreamTarget(&bytes.Buffer{}))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestOnlyOneWriteTarget(t *testing.T) {
	dev := NewFakeDevice()
	m, _ := newTestManager(dev)
	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))

	var preview bytes.Buffer
	require.NoError(t, m.BeginWrite(StreamTarget(&preview)))
	assert.Equal(t, TargetStream, m.ActiveTarget())

	path := filepath.Join(t.TempDir(), "rec.h264")
	err := m.BeginWrite(FileTarget(path))
	assert.ErrorIs(t, err, ErrWriteActive)

	require.NoError(t, m.EndWrite())
	require.NoError(t, m.BeginWrite(FileTarget(path)))
	assert.Equal(t, TargetFile, m.ActiveTarget())
	assert.Equal(t, []TargetKind{TargetStream, TargetFile}, dev.Writes())
}

func TestStepWritesFrames(t *testing.T) {
	dev := NewFakeDevice()
	m, _ := newTestManager(dev)
	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))

	path := filepath.Join(t.TempDir(), "rec.h264")
	require.NoError(t, m.BeginWrite(FileTarget(path)))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Step(context.Background(), time.Millisecond))
	}
	require.NoError(t, m.EndWrite())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*len(dev.Frame)), info.Size())
}

func TestStepDeviceLostClearsTarget(t *testing.T) {
	dev := NewFakeDevice()
	dev.BlockErrs = []error{ErrDeviceLost}
	m, _ := newTestManager(dev)
	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	require.NoError(t, m.BeginWrite(StreamTarget(&bytes.Buffer{})))

	err := m.Step(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, ErrDeviceLost)
	assert.Equal(t, TargetNone, m.ActiveTarget())
	assert.NoError(t, m.EndWrite())
}

func TestStepTransientFaultKeepsTarget(t *testing.T) {
	dev := NewFakeDevice()
	dev.BlockErrs = []error{errors.New("timeout waiting for frame")}
	m, _ := newTestManager(dev)
	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	require.NoError(t, m.BeginWrite(StreamTarget(&bytes.Buffer{})))

	require.Error(t, m.Step(context.Background(), time.Millisecond))
	assert.Equal(t, TargetStream, m.ActiveTarget())
}

func TestReleaseIsSafeAndIdempotent(t *testing.T) {
	dev := NewFakeDevice()
	m, _ := newTestManager(dev)
	m.Release()

	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	require.NoError(t, m.BeginWrite(StreamTarget(&bytes.Buffer{})))
	m.Release()
	m.Release()
	assert.False(t, m.IsOpen())
	assert.False(t, dev.IsOpen())
	assert.Equal(t, TargetNone, m.ActiveTarget())
}

func TestSetOverlayNoopWhenClosed(t *testing.T) {
	dev := NewFakeDevice()
	m, _ := newTestManager(dev)
	m.SetOverlay("ignored")
	assert.Empty(t, dev.Overlays())

	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	m.SetOverlay("rem 5s")
	assert.Equal(t, []string{"rem 5s"}, dev.Overlays())
}

func TestEndWriteWithoutTarget(t *testing.T) {
	m, _ := newTestManager(NewFakeDevice())
	assert.NoError(t, m.EndWrite())
	require.NoError(t, m.AcquireWithRetry(context.Background(), 1, 0))
	assert.NoError(t, m.EndWrite())
}
