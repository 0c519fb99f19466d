package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"pict-recorder/camera"
	"pict-recorder/recording"
)

const (
	frameBoundary = "FRAME"
	partHeader    = "--" + frameBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n"
)

// frameWriter turns each JPEG handed to Write into one multipart part. The
// response headers go out with the first frame, so an early failure can still
// be reported with a proper status code. Writes after Close fail without
// touching the response.
type frameWriter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	started bool
	closed  bool
}

var errStreamClosed = errors.New("preview stream closed")

func (f *frameWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errStreamClosed
	}
	if !f.started {
		h := f.w.Header()
		h.Set("Age", "0")
		h.Set("Cache-Control", "no-cache, private")
		h.Set("Pragma", "no-cache")
		h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+frameBoundary)
		f.w.WriteHeader(http.StatusOK)
		f.started = true
	}
	if _, err := f.w.Write([]byte(partHeader)); err != nil {
		return 0, err
	}
	if _, err := f.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := f.w.Write([]byte("\r\n")); err != nil {
		return 0, err
	}
	f.w.Flush()
	return len(p), nil
}

// Close detaches the writer from the response. It is safe to call more than
// once.
func (f *frameWriter) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *frameWriter) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// handlePreview streams MJPEG until the client goes away or a recording
// takes the camera.
func (s *Server) handlePreview(c *gin.Context) {
	if s.recorder.Status().Recording {
		c.String(http.StatusConflict, "Preview unavailable while recording")
		return
	}

	fw := &frameWriter{w: c.Writer}
	err := s.recorder.StartPreview(c.Request.Context(), fw)
	fw.Close()
	if err == nil || fw.Started() {
		return
	}

	switch {
	case errors.Is(err, recording.ErrPreviewWhileRecording):
		c.String(http.StatusConflict, "Preview unavailable while recording")
	case errors.Is(err, recording.ErrPreviewBusy):
		c.String(http.StatusConflict, "Preview already open in another tab")
	case errors.Is(err, recording.ErrShuttingDown):
		c.String(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, camera.ErrCameraUnavailable):
		c.String(http.StatusServiceUnavailable, err.Error())
	default:
		c.String(http.StatusInternalServerError, err.Error())
	}
}
