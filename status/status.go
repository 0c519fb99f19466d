package status

import (
	"sync"
	"time"
)

// Mode is the orchestrator's current session mode.
type Mode string

const (
	ModeIdle              Mode = "idle"
	ModeWaiting           Mode = "waiting"
	ModeRecordingDuration Mode = "recording_duration"
	ModeRecordingSchedule Mode = "recording_schedule"
)

// IsRecording reports whether the mode implies an open recording write target.
func (m Mode) IsRecording() bool {
	return m == ModeRecordingDuration || m == ModeRecordingSchedule
}

// Status is the process-wide record shown by the control surface.
type Status struct {
	Mode         Mode       `json:"mode"`
	Recording    bool       `json:"recording"`
	Previewing   bool       `json:"previewing"`
	SessionID    string     `json:"sessionId,omitempty"`
	OutputPath   string     `json:"outputPath,omitempty"`
	SessionStart *time.Time `json:"sessionStart,omitempty"`
	StopDeadline *time.Time `json:"stopDeadline,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

// Remaining returns the whole seconds left until StopDeadline, clamped at zero.
func (s Status) Remaining(now time.Time) int {
	if s.StopDeadline == nil {
		return 0
	}
	rem := int(s.StopDeadline.Sub(now).Seconds())
	if rem < 0 {
		return 0
	}
	return rem
}

func (s Status) clone() Status {
	out := s
	if s.SessionStart != nil {
		t := *s.SessionStart
		out.SessionStart = &t
	}
	if s.StopDeadline != nil {
		t := *s.StopDeadline
		out.StopDeadline = &t
	}
	return out
}

// normalize re-establishes the invariants between Mode, Recording and
// StopDeadline after a transition.
func (s *Status) normalize() {
	s.Recording = s.Mode.IsRecording()
	if !s.Recording {
		s.StopDeadline = nil
	}
}

// Store guards the single Status value. All mutation goes through Update or
// one of the named transitions, so readers always see a complete snapshot.
type Store struct {
	mu     sync.RWMutex
	status Status
}

// NewStore returns a store in the idle state.
func NewStore() *Store {
	return &Store{status: Status{Mode: ModeIdle}}
}

// Snapshot returns a copy of the current status.
func (s *Store) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.clone()
}

// Update applies fn under the write lock. If fn returns an error the status
// is left untouched.
func (s *Store) Update(fn func(*Status) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.status.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.normalize()
	s.status = next
	return nil
}

func (s *Store) apply(fn func(*Status)) {
	_ = s.Update(func(st *Status) error {
		fn(st)
		return nil
	})
}

// IsRecording reports the recording flag under the read lock.
func (s *Store) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Recording
}

// SetMode switches to a non-recording mode. Recording modes are entered only
// through BeginSession.
func (s *Store) SetMode(mode Mode) {
	s.apply(func(st *Status) {
		if mode.IsRecording() {
			return
		}
		st.Mode = mode
	})
}

// BeginSession marks a recording as live.
func (s *Store) BeginSession(mode Mode, id, outputPath string, start, deadline time.Time) {
	s.apply(func(st *Status) {
		st.Mode = mode
		st.SessionID = id
		st.OutputPath = outputPath
		st.SessionStart = &start
		st.StopDeadline = &deadline
	})
}

// EndSession returns the store to idle. SessionStart and OutputPath are kept
// so the UI can still show the last artifact.
func (s *Store) EndSession() {
	s.apply(func(st *Status) {
		st.Mode = ModeIdle
		st.SessionID = ""
	})
}

// SetError records msg as the last error. It is never cleared automatically.
func (s *Store) SetError(msg string) {
	s.apply(func(st *Status) {
		st.LastError = msg
	})
}

// SetPreviewing toggles the preview flag.
func (s *Store) SetPreviewing(on bool) {
	s.apply(func(st *Status) {
		st.Previewing = on
	})
}
