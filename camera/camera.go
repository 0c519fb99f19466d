// Package camera owns the single camera device and enforces that at most one
// write target (recording file or preview stream) is active at a time.
package camera

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotOpen is returned when a device operation needs an open camera.
	ErrNotOpen = errors.New("camera not open")
	// ErrWriteActive is returned by BeginWrite while another target is active.
	ErrWriteActive = errors.New("camera already has an active write target")
	// ErrCameraUnavailable is returned once AcquireWithRetry runs out of attempts.
	ErrCameraUnavailable = errors.New("cannot open camera (busy or out of memory)")
	// ErrDeviceLost marks a fault after which the device can no longer deliver frames.
	ErrDeviceLost = errors.New("camera device lost")
)

// Settings are the capture parameters passed to Device.Open.
type Settings struct {
	Width          int
	Height         int
	FrameRate      int
	Quality        int // recording encoder quality
	PreviewQuality int // MJPEG quality for the preview stream
}

// TargetKind distinguishes the two kinds of write target.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetFile
	TargetStream
)

func (k TargetKind) String() string {
	switch k {
	case TargetFile:
		return "file"
	case TargetStream:
		return "stream"
	default:
		return "none"
	}
}

// Target is the consumer of camera frames. A file target persists an
// encoded recording; a stream target receives one JPEG frame per Write.
type Target struct {
	Kind   TargetKind
	Path   string
	Stream io.Writer
}

// FileTarget returns a recording target writing to path.
func FileTarget(path string) Target {
	return Target{Kind: TargetFile, Path: path}
}

// StreamTarget returns a non-persistent preview target.
func StreamTarget(w io.Writer) Target {
	return Target{Kind: TargetStream, Stream: w}
}

// Device is the platform capture capability the Manager drives. Callers are
// serialized by the Manager; implementations need not be safe for concurrent use.
type Device interface {
	Open(ctx context.Context, s Settings) error
	Close() error
	StartWrite(t Target) error
	StopWrite() error
	SetOverlay(text string) error
	// Block keeps frames flowing to the active target for up to d. It returns
	// early only on a device fault or when ctx is done.
	Block(ctx context.Context, d time.Duration) error
}
