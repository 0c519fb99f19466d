package recording

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pict-recorder/camera"
	"pict-recorder/database"
	"pict-recorder/schedule"
	"pict-recorder/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeOracle struct {
	mu    sync.Mutex
	next  []*time.Time // returned in order; the last value repeats
	calls int
}

func (f *fakeOracle) NextShutdown(context.Context) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.next) == 0 {
		return nil, nil
	}
	v := f.next[0]
	if len(f.next) > 1 {
		f.next = f.next[1:]
	}
	return v, nil
}

func (f *fakeOracle) set(next ...*time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = next
}

func (f *fakeOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	o      *Orchestrator
	dev    *camera.FakeDevice
	store  *status.Store
	oracle *fakeOracle
	dir    string
}

func newHarness(t *testing.T, tweak func(*Options, *Deps)) *harness {
	t.Helper()
	h := &harness{
		dev:    camera.NewFakeDevice(),
		store:  status.NewStore(),
		oracle: &fakeOracle{},
		dir:    t.TempDir(),
	}
	settings := camera.Settings{Width: 1296, Height: 972, FrameRate: 15, Quality: 22}
	cam := camera.NewManager(h.dev, settings, zerolog.Nop(), h.store.SetError)

	opts := Options{
		RecordingsDir: h.dir,
		Hostname:      "pict01",
		Label:         "PICT",
		FileExtension: ".h264",
		OpenAttempts:  2,
		OpenDelay:     10 * time.Millisecond,
		Tick:          100 * time.Millisecond,
		PollInterval:  time.Hour,
		PreviewStep:   20 * time.Millisecond,
	}
	deps := Deps{
		Store:  h.store,
		Camera: cam,
		Deadlines: schedule.External{
			Oracle:       h.oracle,
			SafetyMargin: 60 * time.Second,
			GuardBand:    time.Second,
		},
		Logger: zerolog.Nop(),
	}
	if tweak != nil {
		tweak(&opts, &deps)
	}
	h.o = New(opts, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, h.o.Shutdown(ctx))
	})
	return h
}

// waitTask blocks until the current task finishes.
func (h *harness) waitTask(t *testing.T, timeout time.Duration) {
	t.Helper()
	h.o.mu.Lock()
	tk := h.o.task
	h.o.mu.Unlock()
	require.NotNil(t, tk)
	select {
	case <-tk.done:
	case <-time.After(timeout):
		t.Fatal("task did not finish")
	}
}

func (h *harness) waitRecording(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.store.IsRecording, 3*time.Second, 5*time.Millisecond)
}

var remRe = regexp.MustCompile(`rem (\d+)s$`)

func remainingSeconds(t *testing.T, overlays []string) []int {
	t.Helper()
	var out []int
	for _, o := range overlays {
		m := remRe.FindStringSubmatch(o)
		require.NotNil(t, m, "overlay %q", o)
		n, _ := strconv.Atoi(m[1])
		out = append(out, n)
	}
	return out
}

func TestFixedDurationSessionEndToEnd(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *Deps) { o.Tick = time.Second })

	begin := time.Now()
	require.NoError(t, h.o.StartFixedDuration(5))
	h.waitTask(t, 10*time.Second)
	elapsed := time.Since(begin)

	assert.InDelta(t, 5.0, elapsed.Seconds(), 1.0)

	rems := remainingSeconds(t, h.dev.Overlays())
	assert.Equal(t, []int{5, 4, 3, 2, 1, 0}, rems)

	st := h.o.Status()
	assert.Equal(t, status.ModeIdle, st.Mode)
	assert.False(t, st.Recording)
	assert.Nil(t, st.StopDeadline)
	assert.Empty(t, st.LastError)
	require.NotEmpty(t, st.OutputPath)

	info, err := os.Stat(st.OutputPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.False(t, h.dev.IsOpen())
}

func TestStartRejectedWhileRecording(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.StartFixedDuration(60))
	h.waitRecording(t)

	assert.ErrorIs(t, h.o.StartFixedDuration(10), ErrAlreadyRecording)
	assert.ErrorIs(t, h.o.StartFollowSchedule(), ErrAlreadyRecording)

	assert.Equal(t, StopRequested, h.o.RequestStop())
	h.waitTask(t, 3*time.Second)
	assert.Equal(t, status.ModeIdle, h.o.Status().Mode)
}

func TestStartRejectedWhileScheduleRecording(t *testing.T) {
	h := newHarness(t, nil)
	next := time.Now().Add(time.Hour)
	h.oracle.next = []*time.Time{&next}

	require.NoError(t, h.o.StartFollowSchedule())
	h.waitRecording(t)
	assert.Equal(t, status.ModeRecordingSchedule, h.o.Status().Mode)

	assert.ErrorIs(t, h.o.StartFixedDuration(10), ErrAlreadyRecording)
	assert.ErrorIs(t, h.o.StartFollowSchedule(), ErrAlreadyRecording)
}

func TestInvalidDurationTouchesNothing(t *testing.T) {
	h := newHarness(t, nil)
	for _, s := range []int{0, -5, 18001} {
		assert.ErrorIs(t, h.o.StartFixedDuration(s), schedule.ErrInvalidDuration)
	}
	assert.Empty(t, h.dev.OpenCalls())
	assert.Equal(t, status.ModeIdle, h.o.Status().Mode)
	assert.Empty(t, h.o.Status().LastError)
}

func TestRequestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, StopNoop, h.o.RequestStop())
	assert.False(t, h.o.cancel.IsSet())
}

func TestRequestStopEndsWithinOneTick(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.StartFixedDuration(100))
	h.waitRecording(t)

	begin := time.Now()
	require.Equal(t, StopRequested, h.o.RequestStop())
	h.waitTask(t, 2*time.Second)
	assert.Less(t, time.Since(begin), 500*time.Millisecond)

	st := h.o.Status()
	assert.Equal(t, status.ModeIdle, st.Mode)
	info, err := os.Stat(st.OutputPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestScheduleStopTargetIsShutdownMinusMargin(t *testing.T) {
	h := newHarness(t, nil)
	shutdown := time.Now().Add(500 * time.Second).Truncate(time.Second)
	h.oracle.next = []*time.Time{&shutdown}

	require.NoError(t, h.o.StartFollowSchedule())
	h.waitRecording(t)

	st := h.o.Status()
	require.NotNil(t, st.StopDeadline)
	assert.Equal(t, shutdown.Add(-60*time.Second), *st.StopDeadline)
	assert.Equal(t, status.ModeRecordingSchedule, st.Mode)
}

func TestScheduleLoopRepollsAfterSession(t *testing.T) {
	h := newHarness(t, nil)
	shutdown := time.Now().Add(61500 * time.Millisecond)
	h.oracle.next = []*time.Time{&shutdown, nil}

	require.NoError(t, h.o.StartFollowSchedule())
	h.waitRecording(t)

	// Poll interval is an hour, so a second poll must come straight after
	// the session closes.
	require.Eventually(t, func() bool { return h.oracle.Calls() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.o.Status().Mode == status.ModeWaiting }, time.Second, 5*time.Millisecond)
	assert.False(t, h.dev.IsOpen())
	assert.Equal(t, []camera.TargetKind{camera.TargetFile}, h.dev.Writes())
}

func TestScheduleTooCloseStaysWaiting(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *Deps) { o.PollInterval = 50 * time.Millisecond })
	soon := time.Now().Add(30 * time.Second)
	h.oracle.next = []*time.Time{&soon}

	require.NoError(t, h.o.StartFollowSchedule())
	require.Eventually(t, func() bool { return h.oracle.Calls() >= 3 }, 3*time.Second, 5*time.Millisecond)

	st := h.o.Status()
	assert.Equal(t, status.ModeWaiting, st.Mode)
	assert.False(t, st.Recording)
	assert.Empty(t, h.dev.OpenCalls())
}

func TestScheduleChangeWakesWaitingLoop(t *testing.T) {
	changed := make(chan struct{}, 1)
	h := newHarness(t, func(_ *Options, d *Deps) { d.ScheduleChanged = changed })

	require.NoError(t, h.o.StartFollowSchedule())
	require.Eventually(t, func() bool { return h.oracle.Calls() == 1 }, time.Second, 5*time.Millisecond)

	changed <- struct{}{}
	require.Eventually(t, func() bool { return h.oracle.Calls() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStartDurationReplacesWaitingLoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.StartFollowSchedule())
	require.Eventually(t, func() bool { return h.o.Status().Mode == status.ModeWaiting }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.o.StartFixedDuration(1))
	h.waitTask(t, 3*time.Second)

	assert.Equal(t, status.ModeIdle, h.o.Status().Mode)
	assert.Equal(t, []camera.TargetKind{camera.TargetFile}, h.dev.Writes())
}

func TestStopKeepsScheduleLoopRunning(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *Deps) { o.PollInterval = 50 * time.Millisecond })
	next := time.Now().Add(time.Hour)
	h.oracle.set(&next)

	require.NoError(t, h.o.StartFollowSchedule())
	h.waitRecording(t)
	require.Equal(t, StopRequested, h.o.RequestStop())

	// The loop keeps polling but does not reopen the stopped window.
	require.Eventually(t, func() bool {
		return h.o.Status().Mode == status.ModeWaiting && h.oracle.Calls() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.dev.Writes(), 1)
	h.o.mu.Lock()
	tk := h.o.task
	h.o.mu.Unlock()
	assert.False(t, tk.finished())

	later := time.Now().Add(2 * time.Hour)
	h.oracle.set(&later)
	h.waitRecording(t)
	assert.Equal(t, status.ModeRecordingSchedule, h.o.Status().Mode)
	assert.Len(t, h.dev.Writes(), 2)
}

func TestCameraUnavailableAbortsCleanly(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.OpenFailures = -1

	require.NoError(t, h.o.StartFixedDuration(5))
	h.waitTask(t, 3*time.Second)

	st := h.o.Status()
	assert.Equal(t, status.ModeIdle, st.Mode)
	assert.False(t, st.Recording)
	assert.Contains(t, st.LastError, "cannot open camera")
	assert.Len(t, h.dev.OpenCalls(), 2)
	assert.Empty(t, h.dev.Writes())
}

func TestBeginWriteFailureReleasesCamera(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.StartWriteErr = os.ErrPermission

	require.NoError(t, h.o.StartFixedDuration(5))
	h.waitTask(t, 3*time.Second)

	st := h.o.Status()
	assert.Contains(t, st.LastError, "start_recording failed")
	assert.False(t, st.Recording)
	assert.False(t, h.dev.IsOpen())
}

func TestDeviceLostDegradesToStopping(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.BlockErrs = []error{nil, camera.ErrDeviceLost}

	require.NoError(t, h.o.StartFixedDuration(60))
	h.waitTask(t, 3*time.Second)

	st := h.o.Status()
	assert.Equal(t, status.ModeIdle, st.Mode)
	assert.Contains(t, st.LastError, "device lost")
	assert.False(t, h.dev.IsOpen())
}

func TestLastErrorSurvivesSuccessfulSession(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetError("earlier failure")

	require.NoError(t, h.o.StartFixedDuration(1))
	h.waitTask(t, 3*time.Second)
	assert.Equal(t, "earlier failure", h.o.Status().LastError)
}

func TestShutdownJoinsActiveSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.StartFixedDuration(100))
	h.waitRecording(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.o.Shutdown(ctx))

	assert.False(t, h.dev.IsOpen())
	assert.False(t, h.o.Status().Recording)
	assert.ErrorIs(t, h.o.StartFixedDuration(5), ErrShuttingDown)
	assert.ErrorIs(t, h.o.StartFollowSchedule(), ErrShuttingDown)
}

type recordedPost struct {
	mu       sync.Mutex
	sessions []Session
}

func (r *recordedPost) Process(_ context.Context, s Session) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
}

func TestPostProcessorReceivesArtifact(t *testing.T) {
	post := &recordedPost{}
	h := newHarness(t, func(_ *Options, d *Deps) { d.Post = post })

	require.NoError(t, h.o.StartFixedDuration(1))
	h.waitTask(t, 3*time.Second)
	require.NoError(t, h.o.Shutdown(context.Background()))

	post.mu.Lock()
	defer post.mu.Unlock()
	require.Len(t, post.sessions, 1)
	s := post.sessions[0]
	assert.Equal(t, reasonDeadline, s.Reason)
	assert.Equal(t, status.ModeRecordingDuration, s.Mode)
	assert.Equal(t, h.o.Status().OutputPath, s.OutputPath)
	assert.False(t, s.StartedAt.IsZero())
}

func TestPostProcessorSkipsFailedStart(t *testing.T) {
	post := &recordedPost{}
	h := newHarness(t, func(_ *Options, d *Deps) { d.Post = post })
	h.dev.OpenFailures = -1

	require.NoError(t, h.o.StartFixedDuration(1))
	h.waitTask(t, 3*time.Second)
	require.NoError(t, h.o.Shutdown(context.Background()))
	assert.Empty(t, post.sessions)
}

func TestShutdownRecordsShutdownReason(t *testing.T) {
	post := &recordedPost{}
	h := newHarness(t, func(_ *Options, d *Deps) { d.Post = post })

	require.NoError(t, h.o.StartFixedDuration(100))
	h.waitRecording(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.o.Shutdown(ctx))

	post.mu.Lock()
	defer post.mu.Unlock()
	require.Len(t, post.sessions, 1)
	assert.Equal(t, reasonShutdown, post.sessions[0].Reason)
}

func TestOperatorStopRecordsStoppedReason(t *testing.T) {
	post := &recordedPost{}
	h := newHarness(t, func(_ *Options, d *Deps) { d.Post = post })

	require.NoError(t, h.o.StartFixedDuration(100))
	h.waitRecording(t)
	require.Equal(t, StopRequested, h.o.RequestStop())
	h.waitTask(t, 3*time.Second)
	require.NoError(t, h.o.Shutdown(context.Background()))

	post.mu.Lock()
	defer post.mu.Unlock()
	require.Len(t, post.sessions, 1)
	assert.Equal(t, reasonStopped, post.sessions[0].Reason)
}

// gatedHistory holds FinishRecording until release is closed.
type gatedHistory struct {
	database.Database
	entered chan struct{}
	release chan struct{}
}

func (g *gatedHistory) CreateRecording(database.Recording) error { return nil }

func (g *gatedHistory) FinishRecording(string, database.RecordingStatus, int64, string) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return nil
}

func TestStartAcceptedWhileDurationTaskWrapsUp(t *testing.T) {
	hist := &gatedHistory{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, func(_ *Options, d *Deps) { d.History = hist })

	require.NoError(t, h.o.StartFixedDuration(1))
	select {
	case <-hist.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}
	assert.False(t, h.o.Status().Recording)

	errc := make(chan error, 1)
	go func() { errc <- h.o.StartFixedDuration(1) }()
	time.Sleep(20 * time.Millisecond)
	close(hist.release)

	require.NoError(t, <-errc)
	h.waitTask(t, 3*time.Second)
	assert.Equal(t, []camera.TargetKind{camera.TargetFile, camera.TargetFile}, h.dev.Writes())
}
