package recording

import (
	"context"
	"sync"
	"time"
)

// stopFlag is a level-triggered stop request. Done returns a channel that is
// closed while the flag is set.
type stopFlag struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func newStopFlag() *stopFlag {
	return &stopFlag{ch: make(chan struct{})}
}

func (f *stopFlag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		f.set = true
		close(f.ch)
	}
}

func (f *stopFlag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		f.set = false
		f.ch = make(chan struct{})
	}
}

func (f *stopFlag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

func (f *stopFlag) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

// sleep waits for d. It returns false if ctx ended first and true otherwise,
// including an early wake from either channel. Nil channels never fire.
func sleep(ctx context.Context, d time.Duration, wakeA, wakeB <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-wakeA:
	case <-wakeB:
	}
	return true
}
