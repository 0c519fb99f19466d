package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PostProcessTimer tracks the timing of the post-processing steps applied
// to one recording.
type PostProcessTimer struct {
	FileName  string
	StartTime time.Time
	Steps     map[string]time.Duration

	logger  zerolog.Logger
	mu      sync.Mutex
	started map[string]time.Time
}

// NewPostProcessTimer creates a new timer for fileName.
func NewPostProcessTimer(fileName string, logger zerolog.Logger) *PostProcessTimer {
	return &PostProcessTimer{
		FileName:  fileName,
		StartTime: time.Now(),
		Steps:     make(map[string]time.Duration),
		logger:    logger,
		started:   make(map[string]time.Time),
	}
}

// Start marks the beginning of step.
func (m *PostProcessTimer) Start(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[step] = time.Now()
	m.logger.Debug().Str("file", m.FileName).Str("step", step).Msg("post-process step started")
}

// End marks the end of step and observes it with the given result
// ("ok", "error" or "skipped").
func (m *PostProcessTimer) End(step, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	begin, ok := m.started[step]
	if !ok {
		return
	}
	delete(m.started, step)
	d := time.Since(begin)
	m.Steps[step] = d
	PostProcessDuration.WithLabelValues(step, result).Observe(d.Seconds())
	m.logger.Info().Str("file", m.FileName).Str("step", step).Str("result", result).Dur("took", d).Msg("post-process step finished")
}

// Total returns the time since the timer was created.
func (m *PostProcessTimer) Total() time.Duration {
	return time.Since(m.StartTime)
}
