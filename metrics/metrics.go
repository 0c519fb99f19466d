// Package metrics exposes the recorder's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished recording sessions by mode and result.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pict_recording_sessions_total",
		Help: "Recording sessions by mode and result",
	}, []string{"mode", "result"})

	// SessionDuration observes how long sessions actually recorded.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pict_recording_session_duration_seconds",
		Help:    "Recorded time per session",
		Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600, 7200, 18000},
	}, []string{"mode"})

	// CameraOpenAttempts counts camera open attempts by result.
	CameraOpenAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pict_camera_open_attempts_total",
		Help: "Camera open attempts by result",
	}, []string{"result"})

	// Recording is 1 while a recording write target is active.
	Recording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pict_recording_active",
		Help: "1 while recording",
	})

	// Previewing is 1 while the preview stream is active.
	Previewing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pict_preview_active",
		Help: "1 while a preview stream is active",
	})

	// SchedulePolls counts schedule oracle polls by outcome.
	SchedulePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pict_schedule_polls_total",
		Help: "Witty Pi schedule polls by outcome",
	}, []string{"outcome"})

	// PostProcessDuration observes post-processing steps (wrap, upload).
	PostProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pict_post_process_duration_seconds",
		Help:    "Duration of post-processing steps",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"step", "result"})
)
