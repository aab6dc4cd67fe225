/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package watch reports file changes inside a session directory by polling
// the control plane on a fixed interval.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/robfig/cron/v3"
)

var ErrAlreadyStarted = errors.New("watcher already started")

// ChangeSource is the part of the control plane the watcher needs.
type ChangeSource interface {
	GetFileChanges(ctx context.Context, req *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error)
}

// Callback receives the deduplicated events of one poll. It is never called
// with an empty slice.
type Callback func(events []status.ChangeEvent)

type Watcher struct {
	source    ChangeSource
	sessionID string
	dir       string
	interval  time.Duration
	callback  Callback

	stopped atomic.Bool
	started atomic.Bool
	cron    *cron.Cron
	cancel  context.CancelFunc
	first   sync.WaitGroup
}

// New validates the arguments. Intervals below one second are rounded up
// by the scheduler.
func New(source ChangeSource, sessionID, dir string, interval time.Duration, callback Callback) (*Watcher, error) {
	if err := validation.ValidateContextPath(dir); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, validation.Errorf("callback", "", "must not be nil")
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		source:    source,
		sessionID: sessionID,
		dir:       dir,
		interval:  interval,
		callback:  callback,
	}, nil
}

// Poll fetches and decodes one directory diff.
func (w *Watcher) Poll(ctx context.Context) ([]status.ChangeEvent, error) {
	resp, err := w.source.GetFileChanges(ctx, &controlplane.FileChangesRequest{
		SessionID: w.sessionID,
		Path:      w.dir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file changes for %s: %w", w.dir, err)
	}
	return status.ParseChangeEvents(resp.Changes)
}

func (w *Watcher) cycle(ctx context.Context) {
	if w.stopped.Load() {
		return
	}
	events, err := w.Poll(ctx)
	if err != nil {
		log.Warn("Watch poll on %s failed: %v", w.dir, err)
		return
	}
	if len(events) == 0 || w.stopped.Load() {
		return
	}
	log.Debug("Detected %d changes under %s", len(events), w.dir)
	w.callback(events)
}

// Start polls once right away and then on every interval until Stop is
// called. Cancelling ctx aborts in-flight polls but does not stop the
// schedule.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, w.cancel = context.WithCancel(ctx)
	logger := cronLogger{}
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() { w.cycle(ctx) }))

	w.cron = cron.New(cron.WithLogger(logger))
	w.cron.Schedule(cron.Every(w.interval), job)

	w.first.Add(1)
	go func() {
		defer w.first.Done()
		job.Run()
	}()

	w.cron.Start()
	log.Info("Watching %s in session %s every %v", w.dir, w.sessionID, w.interval)
	return nil
}

// Stop raises the stop flag, halts the schedule and waits up to timeout for
// a running poll to return. It reports whether the join completed in time.
func (w *Watcher) Stop(timeout time.Duration) bool {
	w.stopped.Store(true)
	if !w.started.Load() {
		return true
	}

	done := make(chan struct{})
	go func() {
		<-w.cron.Stop().Done()
		w.first.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return true
	case <-time.After(timeout):
		w.cancel()
		log.Warn("Watcher on %s did not stop within %v", w.dir, timeout)
		return false
	}
}

// cronLogger routes scheduler messages through the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Slog().Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Slog().Error(msg, append(keysAndValues, "error", err)...)
}
