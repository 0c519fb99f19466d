package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pict-recorder/recording"
	"pict-recorder/schedule"
	"pict-recorder/status"
)

type statusResponse struct {
	status.Status
	RemainingSeconds int    `json:"remainingSeconds"`
	ModeDescription  string `json:"modeDescription"`
}

func (s *Server) getStatus(c *gin.Context) {
	snap := s.recorder.Status()
	c.JSON(http.StatusOK, statusResponse{
		Status:           snap,
		RemainingSeconds: snap.Remaining(time.Now()),
		ModeDescription:  s.config.ModeDescription(),
	})
}

type startDurationRequest struct {
	Seconds *int `json:"seconds"`
}

// parseSeconds accepts a JSON body or a form field named seconds.
func parseSeconds(c *gin.Context) (int, bool) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req startDurationRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Seconds == nil {
			return 0, false
		}
		return *req.Seconds, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(c.PostForm("seconds")))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Server) startDuration(c *gin.Context) {
	seconds, ok := parseSeconds(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": schedule.ErrInvalidDuration.Error()})
		return
	}
	if err := s.recorder.StartFixedDuration(seconds); err != nil {
		s.startError(c, err)
		return
	}
	s.logger.Info().Int("seconds", seconds).Msg("Fixed-duration recording started from control surface")
	c.JSON(http.StatusAccepted, gin.H{"result": "started", "seconds": seconds})
}

func (s *Server) startSchedule(c *gin.Context) {
	if err := s.recorder.StartFollowSchedule(); err != nil {
		s.startError(c, err)
		return
	}
	s.logger.Info().Msg("Follow-schedule mode started from control surface")
	c.JSON(http.StatusAccepted, gin.H{"result": "started"})
}

func (s *Server) startError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, recording.ErrAlreadyRecording):
		c.JSON(http.StatusConflict, gin.H{"error": "Already recording"})
	case errors.Is(err, recording.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) stop(c *gin.Context) {
	result := s.recorder.RequestStop()
	if result == recording.StopRequested {
		s.logger.Info().Msg("Stop requested from control surface")
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"mode":      s.recorder.Status().Mode,
	}
	if s.db == nil {
		resp["database"] = gin.H{"status": "disabled"}
		c.JSON(http.StatusOK, resp)
		return
	}
	if _, err := s.db.ListRecordings(1, 0); err != nil {
		resp["status"] = "degraded"
		resp["database"] = gin.H{"status": "failed", "error": err.Error()}
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["database"] = gin.H{"status": "connected"}
	c.JSON(http.StatusOK, resp)
}
