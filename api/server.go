// Package api is the HTTP control surface: session control, the live
// preview, recording files, the schedule editor and system telemetry.
package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pict-recorder/config"
	"pict-recorder/database"
	"pict-recorder/recording"
	"pict-recorder/schedule"
	"pict-recorder/status"
)

const shutdownTimeout = 5 * time.Second

// Recorder is the orchestrator surface the handlers drive.
type Recorder interface {
	StartFixedDuration(seconds int) error
	StartFollowSchedule() error
	RequestStop() recording.StopResult
	Status() status.Status
	StartPreview(ctx context.Context, w io.Writer) error
}

type Server struct {
	config       config.Config
	recorder     Recorder
	db           database.Database
	schedulePath string
	logger       zerolog.Logger
	startedAt    time.Time
}

// NewServer wires the handlers. db may be nil when history is disabled.
func NewServer(cfg config.Config, rec Recorder, db database.Database, logger zerolog.Logger) *Server {
	return &Server{
		config:       cfg,
		recorder:     rec,
		db:           db,
		schedulePath: schedule.SchedulePath(cfg.WittyPiDirs),
		logger:       logger,
		startedAt:    time.Now(),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.setupCORS(r)
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled, then shuts the listener down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.WebPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so open previews let go on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Str("recordings", s.config.RecordingsDir).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		_ = srv.Close()
	}
	return <-errCh
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}

// requestLogger logs non-preview requests at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/preview" || c.FullPath() == "/metrics" {
			return
		}
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) setupRoutes(r *gin.Engine) {
	s.setupDashboard(r)

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/preview", s.handlePreview)

	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.POST("/start_duration", s.startDuration)
		api.POST("/start_schedule", s.startSchedule)
		api.POST("/stop", s.stop)

		api.GET("/recordings", s.listRecordings)
		api.GET("/recordings/:name/download", s.downloadRecording)
		api.DELETE("/recordings/:name", s.deleteRecording)

		api.GET("/schedule", s.getSchedule)
		api.PUT("/schedule", s.putSchedule)

		api.GET("/logs", s.getLogs)
		api.GET("/system", s.getSystem)
		api.GET("/config", s.getConfig)
	}
}
