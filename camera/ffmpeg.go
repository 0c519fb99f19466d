package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const (
	startupWatch = 300 * time.Millisecond
	stopGrace    = 5 * time.Second
)

// FFmpegDevice captures from a V4L2 node with ffmpeg. The overlay is a text
// file that the drawtext filter re-reads every frame.
type FFmpegDevice struct {
	DevicePath string
	FFmpegPath string // defaults to "ffmpeg" on PATH
	LogDir     string // ffmpeg stderr logs; empty discards them

	logger zerolog.Logger

	settings    Settings
	node        *os.File
	overlayDir  string
	overlayPath string

	cmd      *exec.Cmd
	waitCh   chan error
	exitErr  error
	logFile  *os.File
	pumpDone chan struct{}
}

// NewFFmpegDevice returns a device for the given V4L2 node.
func NewFFmpegDevice(devicePath, logDir string, logger zerolog.Logger) *FFmpegDevice {
	return &FFmpegDevice{
		DevicePath: devicePath,
		FFmpegPath: "ffmpeg",
		LogDir:     logDir,
		logger:     logger,
	}
}

// Open claims the device node and prepares the overlay file.
func (d *FFmpegDevice) Open(_ context.Context, s Settings) error {
	if d.node != nil {
		return nil
	}
	if _, err := exec.LookPath(d.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	node, err := os.OpenFile(d.DevicePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.DevicePath, err)
	}

	dir, err := os.MkdirTemp("", "pict-overlay-")
	if err != nil {
		node.Close()
		return fmt.Errorf("create overlay dir: %w", err)
	}
	d.overlayDir = dir
	d.overlayPath = filepath.Join(dir, "overlay.txt")
	if err := renameio.WriteFile(d.overlayPath, []byte(" "), 0644); err != nil {
		node.Close()
		os.RemoveAll(dir)
		return fmt.Errorf("init overlay file: %w", err)
	}

	d.node = node
	d.settings = s
	return nil
}

// Close releases the device node.
func (d *FFmpegDevice) Close() error {
	if d.node == nil {
		return nil
	}
	_ = d.StopWrite()
	err := d.node.Close()
	d.node = nil
	if d.overlayDir != "" {
		os.RemoveAll(d.overlayDir)
		d.overlayDir = ""
	}
	return err
}

// SetOverlay rewrites the overlay file atomically so drawtext never reads a
// partial file.
func (d *FFmpegDevice) SetOverlay(text string) error {
	if d.node == nil {
		return ErrNotOpen
	}
	return renameio.WriteFile(d.overlayPath, []byte(text), 0644)
}

func (d *FFmpegDevice) inputArgs() []string {
	s := d.settings
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", s.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-i", d.DevicePath,
		"-vf", d.overlayFilter(),
	}
}

func (d *FFmpegDevice) overlayFilter() string {
	// Colons in the path would split filter options.
	path := strings.ReplaceAll(d.overlayPath, ":", `\:`)
	return fmt.Sprintf("drawtext=textfile=%s:reload=1:fontcolor=white:fontsize=20:box=1:boxcolor=black@0.5:boxborderw=4:x=8:y=8", path)
}

// buildArgs returns the ffmpeg argument list for t.
func (d *FFmpegDevice) buildArgs(t Target) []string {
	args := d.inputArgs()
	switch t.Kind {
	case TargetFile:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-crf", fmt.Sprintf("%d", d.settings.Quality),
			"-pix_fmt", "yuv420p",
			"-f", "h264",
			"-y", t.Path,
		)
	case TargetStream:
		args = append(args,
			"-c:v", "mjpeg",
			"-q:v", fmt.Sprintf("%d", d.settings.PreviewQuality),
			"-f", "mjpeg",
			"pipe:1",
		)
	}
	return args
}

// StartWrite launches the ffmpeg process for t.
func (d *FFmpegDevice) StartWrite(t Target) error {
	if d.node == nil {
		return ErrNotOpen
	}
	if d.cmd != nil {
		return ErrWriteActive
	}
	if t.Kind == TargetStream && t.Stream == nil {
		return errors.New("stream target without writer")
	}

	cmd := exec.Command(d.FFmpegPath, d.buildArgs(t)...)
	setProcessGroup(cmd)

	if d.LogDir != "" {
		name := fmt.Sprintf("ffmpeg_%s_%s.log", t.Kind, time.Now().Format("20060102_150405"))
		if f, err := os.Create(filepath.Join(d.LogDir, name)); err == nil {
			d.logFile = f
			cmd.Stderr = f
		}
	}

	// A plain os.Pipe instead of StdoutPipe: Wait must not close the read
	// side while the pump is still draining frames.
	var pr, pw *os.File
	if t.Kind == TargetStream {
		var err error
		pr, pw, err = os.Pipe()
		if err != nil {
			d.closeLog()
			return fmt.Errorf("stdout pipe: %w", err)
		}
		cmd.Stdout = pw
	}

	if err := cmd.Start(); err != nil {
		if pr != nil {
			pr.Close()
			pw.Close()
		}
		d.closeLog()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	if pr != nil {
		pw.Close()
		d.pumpDone = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			defer pr.Close()
			if err := pumpFrames(pr, t.Stream); err != nil {
				d.logger.Debug().Err(err).Msg("preview pump ended")
			}
		}(d.pumpDone)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()
	d.cmd = cmd
	d.waitCh = waitCh
	d.exitErr = nil

	// An immediate exit means the device rejected the format or is busy.
	select {
	case err := <-waitCh:
		d.reap(err)
		if err == nil {
			err = errors.New("exited during startup")
		}
		return fmt.Errorf("ffmpeg: %w", err)
	case <-time.After(startupWatch):
	}

	d.logger.Debug().Str("target", t.Kind.String()).Int("pid", cmd.Process.Pid).Msg("ffmpeg started")
	return nil
}

// Block waits for up to dur, returning ErrDeviceLost if ffmpeg exits.
func (d *FFmpegDevice) Block(ctx context.Context, dur time.Duration) error {
	if d.cmd == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			return nil
		}
	}

	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case err := <-d.waitCh:
		d.reap(err)
		if err == nil {
			err = errors.New("ffmpeg exited")
		}
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StopWrite asks ffmpeg to finish the file (SIGINT) and kills the process
// group if it does not exit within the grace period.
func (d *FFmpegDevice) StopWrite() error {
	if d.cmd == nil {
		return nil
	}
	cmd, waitCh := d.cmd, d.waitCh

	if err := signalGroup(cmd, interruptSignal); err != nil {
		d.logger.Debug().Err(err).Msg("interrupt ffmpeg")
	}

	var err error
	select {
	case err = <-waitCh:
	case <-time.After(stopGrace):
		d.logger.Warn().Dur("grace", stopGrace).Msg("ffmpeg did not stop, killing")
		_ = signalGroup(cmd, killSignal)
		err = <-waitCh
	}
	d.reap(err)

	if isInterruptExit(err) {
		return nil
	}
	return err
}

func (d *FFmpegDevice) reap(err error) {
	d.exitErr = err
	d.cmd = nil
	d.waitCh = nil
	if d.pumpDone != nil {
		select {
		case <-d.pumpDone:
		case <-time.After(stopGrace):
			d.logger.Warn().Msg("preview consumer stalled, abandoning frame pump")
		}
		d.pumpDone = nil
	}
	d.closeLog()
}

func (d *FFmpegDevice) closeLog() {
	if d.logFile != nil {
		d.logFile.Close()
		d.logFile = nil
	}
}

// isInterruptExit treats ffmpeg's exit after SIGINT (code 255) as success.
func isInterruptExit(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 255
	}
	return false
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc yielding complete JPEG images from an
// MJPEG byte stream.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it starts the next marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// pumpFrames copies whole JPEG frames from r to w, one Write per frame.
func pumpFrames(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 256*1024), 8*1024*1024)
	sc.Split(splitJPEG)
	for sc.Scan() {
		if _, err := w.Write(sc.Bytes()); err != nil {
			// Keep draining so ffmpeg never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return err
		}
	}
	return sc.Err()
}
