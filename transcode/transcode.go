// Package transcode re-wraps raw H.264 recordings into an mp4 container.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrFFmpegMissing is returned when no ffmpeg binary is on PATH.
var ErrFFmpegMissing = errors.New("ffmpeg not found")

// Wrapper remuxes a raw elementary stream into mp4 without re-encoding.
type Wrapper struct {
	FFmpegPath string
	FrameRate  int
	// KeepRaw leaves the .h264 next to the .mp4 after a successful wrap.
	KeepRaw bool

	logger zerolog.Logger
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewWrapper returns a wrapper for streams captured at frameRate.
func NewWrapper(frameRate int, logger zerolog.Logger) *Wrapper {
	return &Wrapper{
		FFmpegPath: "ffmpeg",
		FrameRate:  frameRate,
		logger:     logger,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Args returns the ffmpeg arguments wrapping in into out.
func (w *Wrapper) Args(in, out string) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(w.FrameRate),
		"-i", in,
		"-c:v", "copy",
		out,
	}
}

// Wrap writes <raw without ext>.mp4 and returns its path. On any failure the
// raw file is left in place and its path is returned with the error.
func (w *Wrapper) Wrap(ctx context.Context, raw string) (string, error) {
	if IsMP4File(raw) {
		return raw, nil
	}
	if _, err := os.Stat(raw); err != nil {
		return raw, fmt.Errorf("input file: %w", err)
	}
	bin, err := exec.LookPath(w.FFmpegPath)
	if err != nil {
		w.logger.Warn().Msg("ffmpeg not found; skipping mp4 wrap")
		return raw, ErrFFmpegMissing
	}

	out := MP4Path(raw)
	if output, err := w.run(ctx, bin, w.Args(raw, out)...); err != nil {
		_ = os.Remove(out)
		return raw, fmt.Errorf("mp4 wrap failed: %w: %s", err, lastLine(output))
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		_ = os.Remove(out)
		return raw, fmt.Errorf("mp4 wrap produced no output")
	}

	w.logger.Info().Str("from", filepath.Base(raw)).Str("to", filepath.Base(out)).Msg("Wrapped recording")
	if !w.KeepRaw {
		if err := os.Remove(raw); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn().Err(err).Str("file", raw).Msg("could not delete raw recording")
		}
	}
	return out, nil
}

// MP4Path swaps the extension of raw for .mp4.
func MP4Path(raw string) string {
	return strings.TrimSuffix(raw, filepath.Ext(raw)) + ".mp4"
}

// IsMP4File checks if the given file is an MP4 file based on extension
func IsMP4File(filePath string) bool {
	return strings.EqualFold(filepath.Ext(filePath), ".mp4")
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
