package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pict-recorder/logging"
	"pict-recorder/monitoring"
	"pict-recorder/schedule"
)

const cpuSample = 200 * time.Millisecond

func formatBytes(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/1048576)
}

func (s *Server) getSchedule(c *gin.Context) {
	content, err := schedule.ReadScheduleFile(s.schedulePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": s.schedulePath, "content": content})
}

type scheduleRequest struct {
	Content string `json:"content" form:"content"`
}

func (s *Server) putSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := schedule.WriteScheduleFile(s.schedulePath, req.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Saving schedule failed: " + err.Error()})
		return
	}
	s.logger.Info().Str("path", s.schedulePath).Msg("schedule.wpi saved")
	c.JSON(http.StatusOK, gin.H{"path": s.schedulePath, "saved": true})
}

func (s *Server) getLogs(c *gin.Context) {
	lines := logging.Tail()
	c.JSON(http.StatusOK, gin.H{"lines": lines, "count": len(lines)})
}

func (s *Server) getSystem(c *gin.Context) {
	info := monitoring.Snapshot(c.Request.Context(), s.config.RecordingsDir, cpuSample)
	c.JSON(http.StatusOK, gin.H{"system": info, "summary": info.String()})
}

// systemSummary skips the CPU sample so the dashboard renders promptly.
func (s *Server) systemSummary(c *gin.Context) string {
	return monitoring.Snapshot(c.Request.Context(), s.config.RecordingsDir, 0).String()
}

func (s *Server) getConfig(c *gin.Context) {
	wittyPiDir := "(not found)"
	if dir := schedule.NewWittyPiOracle(s.config.WittyPiDirs, s.logger).Dir(); dir != "" {
		wittyPiDir = dir
	}
	cam := s.config.Camera
	c.JSON(http.StatusOK, gin.H{
		"resolution":     cam.Resolution(),
		"framerate":      cam.FrameRate,
		"quality":        cam.Quality,
		"label":          cam.AnnotationLabel,
		"file_extension": cam.FileExtension,
		"mode":           s.config.ModeDescription(),
		"web_port":       s.config.WebPort,
		"recordings_dir": s.config.RecordingsDir,
		"wittypi_dir":    wittyPiDir,
		"schedule_file":  s.schedulePath,
		"mp4_wrap":       s.config.MP4Wrap,
		"upload_enabled": s.config.R2Enabled,
	})
}
