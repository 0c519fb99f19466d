package recording

import (
	"context"
	"errors"
	"io"

	"pict-recorder/camera"
	"pict-recorder/metrics"
)

type previewTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartPreview streams JPEG frames to w until ctx is done, the stream fails,
// or a recording session takes the camera. It blocks for the whole stream.
func (o *Orchestrator) StartPreview(ctx context.Context, w io.Writer) error {
	o.pmu.Lock()
	if o.isClosed() {
		o.pmu.Unlock()
		return ErrShuttingDown
	}
	if o.claimed || o.store.IsRecording() {
		o.pmu.Unlock()
		return ErrPreviewWhileRecording
	}
	if o.preview != nil {
		o.pmu.Unlock()
		return ErrPreviewBusy
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &previewTask{cancel: cancel, done: make(chan struct{})}
	o.preview = p
	o.pmu.Unlock()

	defer func() {
		cancel()
		o.pmu.Lock()
		if o.preview == p {
			o.preview = nil
		}
		o.pmu.Unlock()
		close(p.done)
	}()

	if err := o.cam.AcquireWithRetry(pctx, o.opts.OpenAttempts, o.opts.OpenDelay); err != nil {
		return err
	}
	defer o.cam.Release()

	if err := o.cam.BeginWrite(camera.StreamTarget(w)); err != nil {
		o.logger.Error().Err(err).Msg("Preview start error")
		return err
	}
	o.store.SetPreviewing(true)
	metrics.Previewing.Set(1)
	o.logger.Info().Msg("Preview started")

	defer func() {
		if err := o.cam.EndWrite(); err != nil {
			o.logger.Debug().Err(err).Msg("preview end write")
		}
		o.store.SetPreviewing(false)
		metrics.Previewing.Set(0)
		o.logger.Info().Msg("Preview stopped")
	}()

	for pctx.Err() == nil {
		err := o.cam.Step(pctx, o.opts.PreviewStep)
		if err == nil || pctx.Err() != nil {
			continue
		}
		if !errors.Is(err, camera.ErrDeviceLost) {
			o.logger.Debug().Err(err).Msg("preview stream ended")
		}
		return err
	}
	return nil
}

// isClosed is called with pmu held. Shutdown marks the orchestrator closed
// before it stops the preview, so a preview registered under pmu is always
// seen by stopPreview.
func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// claimCamera reserves the camera for a recording session. New previews are
// rejected until unclaimCamera.
func (o *Orchestrator) claimCamera() {
	o.pmu.Lock()
	o.claimed = true
	o.pmu.Unlock()
}

func (o *Orchestrator) unclaimCamera() {
	o.pmu.Lock()
	o.claimed = false
	o.pmu.Unlock()
}

// stopPreview ends a running preview and waits until it has released the
// camera.
func (o *Orchestrator) stopPreview() {
	o.pmu.Lock()
	p := o.preview
	o.pmu.Unlock()
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}
