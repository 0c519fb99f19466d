// Package recording runs recording sessions against the single camera and
// arbitrates between recording and the live preview.
package recording

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"pict-recorder/camera"
	"pict-recorder/database"
	"pict-recorder/schedule"
	"pict-recorder/status"
)

var (
	// ErrAlreadyRecording rejects a start while a session is recording or
	// about to record.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrPreviewWhileRecording rejects a preview while recording has the camera.
	ErrPreviewWhileRecording = errors.New("preview unavailable while recording")
	// ErrPreviewBusy rejects a second concurrent preview.
	ErrPreviewBusy = errors.New("preview already running")
	// ErrShuttingDown rejects starts after Shutdown.
	ErrShuttingDown = errors.New("recorder shutting down")
)

// StopResult is the outcome of RequestStop.
type StopResult string

const (
	StopNoop      StopResult = "noop"
	StopRequested StopResult = "stopping"
)

// Options are the fixed session parameters.
type Options struct {
	RecordingsDir string
	Hostname      string
	Label         string
	FileExtension string
	OpenAttempts  int
	OpenDelay     time.Duration
	// Tick is the overlay refresh and stop-check period.
	Tick time.Duration
	// PollInterval is how long the schedule loop waits between oracle polls.
	PollInterval time.Duration
	// PreviewStep bounds each preview Step call.
	PreviewStep time.Duration
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.PreviewStep <= 0 {
		o.PreviewStep = 200 * time.Millisecond
	}
	if o.OpenAttempts < 1 {
		o.OpenAttempts = 4
	}
	if o.FileExtension == "" {
		o.FileExtension = ".h264"
	}
	return o
}

// Deps are the collaborators an Orchestrator drives. Competing, Post,
// History and ScheduleChanged are optional.
type Deps struct {
	Store     *status.Store
	Camera    *camera.Manager
	Deadlines schedule.External
	Competing *camera.CompetingService
	Post      PostProcessor
	History   database.Database
	// ScheduleChanged wakes a waiting schedule loop before its poll interval.
	ScheduleChanged <-chan struct{}
	Logger          zerolog.Logger
}

// Orchestrator owns the session task, the preview task and the post-processing
// queue.
type Orchestrator struct {
	opts      Options
	store     *status.Store
	cam       *camera.Manager
	deadlines schedule.External
	competing *camera.CompetingService
	post      PostProcessor
	history   database.Database
	changed   <-chan struct{}
	logger    zerolog.Logger

	cancel *stopFlag

	mu     sync.Mutex
	task   *task
	closed bool

	pmu     sync.Mutex
	claimed bool
	preview *previewTask

	postSem    *semaphore.Weighted
	postWG     sync.WaitGroup
	postCtx    context.Context
	postCancel context.CancelFunc
}

// New returns an idle orchestrator.
func New(opts Options, deps Deps) *Orchestrator {
	postCtx, postCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:       opts.withDefaults(),
		store:      deps.Store,
		cam:        deps.Camera,
		deadlines:  deps.Deadlines,
		competing:  deps.Competing,
		post:       deps.Post,
		history:    deps.History,
		changed:    deps.ScheduleChanged,
		logger:     deps.Logger,
		cancel:     newStopFlag(),
		postSem:    semaphore.NewWeighted(1),
		postCtx:    postCtx,
		postCancel: postCancel,
	}
}

type taskKind int

const (
	taskDuration taskKind = iota
	taskSchedule
)

// task is the handle of the single scheduler or duration task.
type task struct {
	kind   taskKind
	g      *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	inSession bool
	replaced  bool
	// ended is set once a session has closed and released the camera. The
	// task may still be recording history or queueing post-processing.
	ended bool
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// enterSession reports false if the task was replaced while waiting.
func (t *task) enterSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.replaced {
		return false
	}
	t.inSession = true
	return true
}

func (t *task) endSession() {
	t.mu.Lock()
	t.ended = true
	t.mu.Unlock()
}

// wrappingUp reports whether a duration task's session has closed.
func (t *task) wrappingUp() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind == taskDuration && t.ended
}

func (t *task) exitSession() {
	t.mu.Lock()
	t.inSession = false
	t.mu.Unlock()
}

// tryReplace marks a waiting schedule task for replacement. It fails once the
// task has entered a session.
func (t *task) tryReplace() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind != taskSchedule || t.inSession {
		return false
	}
	t.replaced = true
	return true
}

// StartFixedDuration launches one session of the given length. An invalid
// duration is rejected before any state changes.
func (o *Orchestrator) StartFixedDuration(seconds int) error {
	stopAt, err := schedule.Fixed(time.Now(), seconds)
	if err != nil {
		return err
	}
	return o.launch(taskDuration, func(ctx context.Context, t *task) error {
		if !t.enterSession() {
			return nil
		}
		defer t.exitSession()
		o.logger.Info().Int("seconds", seconds).Msg("Fixed-duration recording requested")
		o.runSession(ctx, t, status.ModeRecordingDuration, stopAt)
		return nil
	})
}

// StartFollowSchedule launches the follow-schedule loop.
func (o *Orchestrator) StartFollowSchedule() error {
	return o.launch(taskSchedule, o.followSchedule)
}

func (o *Orchestrator) launch(kind taskKind, run func(context.Context, *task) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrShuttingDown
	}
	err := o.store.Update(func(st *status.Status) error {
		if st.Recording {
			return ErrAlreadyRecording
		}
		return nil
	})
	if err != nil {
		return err
	}
	if prev := o.task; prev != nil && !prev.finished() {
		switch {
		case prev.wrappingUp():
			<-prev.done
		case prev.tryReplace():
			o.logger.Info().Msg("Replacing waiting schedule loop")
			prev.cancel()
			<-prev.done
		default:
			return ErrAlreadyRecording
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	t := &task{kind: kind, g: g, cancel: cancel, done: make(chan struct{})}
	g.Go(func() error {
		defer close(t.done)
		return run(gctx, t)
	})
	o.task = t
	return nil
}

// RequestStop asks an active session to stop at its next tick. It is a
// no-op when nothing is recording.
func (o *Orchestrator) RequestStop() StopResult {
	if !o.store.IsRecording() {
		return StopNoop
	}
	o.cancel.Set()
	o.logger.Info().Msg("Stop requested")
	return StopRequested
}

// Status returns a snapshot of the shared status.
func (o *Orchestrator) Status() status.Status {
	return o.store.Snapshot()
}

// Shutdown stops the scheduler, cancels any session and waits for the camera
// to be released, then for queued post-processing. If ctx ends first queued
// post-processing is cancelled and ctx's error returned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	t := o.task
	o.mu.Unlock()

	if t != nil {
		t.cancel()
	}
	o.cancel.Set()
	o.stopPreview()

	if t != nil {
		select {
		case <-t.done:
			if err := t.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Warn().Err(err).Msg("recording task ended with error")
			}
		case <-ctx.Done():
			o.postCancel()
			return ctx.Err()
		}
	}

	postDone := make(chan struct{})
	go func() {
		o.postWG.Wait()
		close(postDone)
	}()
	select {
	case <-postDone:
		o.postCancel()
		return nil
	case <-ctx.Done():
		o.postCancel()
		<-postDone
		return ctx.Err()
	}
}

// postProcess queues sess for the post-processor. One artifact is processed
// at a time.
func (o *Orchestrator) postProcess(sess Session) {
	if o.post == nil {
		return
	}
	o.postWG.Add(1)
	go func() {
		defer o.postWG.Done()
		if err := o.postSem.Acquire(o.postCtx, 1); err != nil {
			o.logger.Warn().Str("file", sess.OutputPath).Msg("post-processing skipped")
			return
		}
		defer o.postSem.Release(1)
		o.post.Process(o.postCtx, sess)
	}()
}
