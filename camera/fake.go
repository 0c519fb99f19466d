package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// FakeDevice is an in-memory Device used by tests and by the --fake-camera
// development mode. Each Block call delivers one frame to the active target.
type FakeDevice struct {
	mu sync.Mutex

	// OpenFailures is the number of Open calls that fail before one succeeds;
	// a negative value fails forever.
	OpenFailures  int
	OpenErr       error
	StartWriteErr error
	// BlockErrs are returned, in order, by successive Block calls.
	BlockErrs []error
	Frame     []byte

	openCalls []time.Time
	overlays  []string
	opened    bool
	target    Target
	file      *os.File
	writes    []TargetKind
}

// NewFakeDevice returns a device that succeeds on every call.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{Frame: []byte{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9}}
}

func (f *FakeDevice) Open(_ context.Context, _ Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls = append(f.openCalls, time.Now())
	if f.OpenFailures != 0 {
		if f.OpenFailures > 0 {
			f.OpenFailures--
		}
		if f.OpenErr != nil {
			return f.OpenErr
		}
		return errors.New("out of resources")
	}
	f.opened = true
	return nil
}

func (f *FakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.opened = false
	return nil
}

func (f *FakeDevice) StartWrite(t Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return ErrNotOpen
	}
	if f.target.Kind != TargetNone {
		return ErrWriteActive
	}
	if f.StartWriteErr != nil {
		return f.StartWriteErr
	}
	if t.Kind == TargetFile {
		file, err := os.Create(t.Path)
		if err != nil {
			return fmt.Errorf("create %s: %w", t.Path, err)
		}
		f.file = file
	}
	f.target = t
	f.writes = append(f.writes, t.Kind)
	return nil
}

func (f *FakeDevice) StopWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	return nil
}

func (f *FakeDevice) stopLocked() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
	f.target = Target{}
}

func (f *FakeDevice) SetOverlay(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays = append(f.overlays, text)
	return nil
}

func (f *FakeDevice) Block(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	var err error
	if len(f.BlockErrs) > 0 {
		err = f.BlockErrs[0]
		f.BlockErrs = f.BlockErrs[1:]
	}
	if err == nil {
		switch f.target.Kind {
		case TargetFile:
			_, err = f.file.Write(f.Frame)
		case TargetStream:
			_, err = f.target.Stream.Write(f.Frame)
		}
	}
	if err != nil && errors.Is(err, ErrDeviceLost) {
		f.stopLocked()
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OpenCalls returns the times of every Open call.
func (f *FakeDevice) OpenCalls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.openCalls...)
}

// Overlays returns every overlay text set so far.
func (f *FakeDevice) Overlays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.overlays...)
}

// Writes returns the kinds of every write target started.
func (f *FakeDevice) Writes() []TargetKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TargetKind(nil), f.writes...)
}

// IsOpen reports whether the fake is open.
func (f *FakeDevice) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}
