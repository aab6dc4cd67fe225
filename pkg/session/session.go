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

// Package session creates and tears down sandbox sessions and drives
// context reconciliation for them.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/config"
	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/cowdogmoo/ctxsync/pkg/transfer"
)

var (
	ErrNoSession     = errors.New("session is nil")
	ErrCreateFailed  = errors.New("session creation failed")
	ErrDeleteFailed  = errors.New("session deletion failed")
	ErrInvalidOption = errors.New("invalid option")
)

// Options controls the polling loops run by the client.
type Options struct {
	CreateRetries  int
	CreateInterval time.Duration
	PollInterval   time.Duration
	WaitTimeout    time.Duration

	// TransferOptions are applied to every file transfer channel.
	TransferOptions []transfer.Option
}

// DefaultOptions reads the polling settings from the loaded configuration.
func DefaultOptions() Options {
	s := config.GetSync()
	return Options{
		CreateRetries:  s.CreateRetries,
		CreateInterval: s.CreateInterval,
		PollInterval:   s.PollInterval,
		WaitTimeout:    s.WaitTimeout,
		TransferOptions: []transfer.Option{
			transfer.WithRetry(config.MaxRetries, time.Duration(config.RetryDelay)*time.Second),
		},
	}
}

type Client struct {
	plane controlplane.ControlPlane
	opts  Options
}

func NewClient(plane controlplane.ControlPlane, opts Options) *Client {
	return &Client{plane: plane, opts: opts}
}

// CreateParams describes a new session. Config carries the explicit
// context bindings and the optional extension option.
type CreateParams struct {
	ImageID string
	Labels  map[string]string
	Config  contextsync.SessionConfig
}

// Session is a handle to a running sandbox.
type Session struct {
	ID        string
	RequestID string

	client   *Client
	bindings []contextsync.ContextSync
	contexts *ContextManager
	files    *transfer.Channel
}

// Bindings returns the context syncs the session was created with.
func (s *Session) Bindings() []contextsync.ContextSync {
	return append([]contextsync.ContextSync(nil), s.bindings...)
}

// Context returns the reconciliation controls for the session.
func (s *Session) Context() *ContextManager {
	return s.contexts
}

// FileTransfer returns the session's file transfer channel, creating it on
// first use.
func (s *Session) FileTransfer() *transfer.Channel {
	if s.files == nil {
		s.files = transfer.New(s.client.plane, s.ID, s.client.opts.TransferOptions...)
	}
	return s.files
}

// Attach returns a handle to an existing session without contacting the
// control plane.
func (c *Client) Attach(sessionID string) *Session {
	s := &Session{ID: sessionID, client: c}
	s.contexts = &ContextManager{session: s}
	return s
}

// Create starts a session. When the session carries context bindings, it
// polls until the control plane reports their initial status or the retry
// budget is spent; a missing status never fails creation.
func (c *Client) Create(ctx context.Context, params CreateParams) (*Session, error) {
	bindings, err := params.Config.AllContextSyncs()
	if err != nil {
		return nil, err
	}

	resp, err := c.plane.CreateSession(ctx, &controlplane.CreateSessionRequest{
		ImageID:      params.ImageID,
		Labels:       params.Labels,
		ContextSyncs: bindings,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("%w: no session id returned (request %s)", ErrCreateFailed, resp.RequestID)
	}

	s := c.Attach(resp.SessionID)
	s.RequestID = resp.RequestID
	s.bindings = bindings
	log.Info("Created session %s with %d context bindings", s.ID, len(bindings))

	if len(bindings) > 0 {
		c.awaitInitialStatus(ctx, s)
	}
	return s, nil
}

func (c *Client) awaitInitialStatus(ctx context.Context, s *Session) {
	for attempt := 1; attempt <= c.opts.CreateRetries; attempt++ {
		info, err := s.contexts.Info(ctx, status.Filter{})
		switch {
		case err != nil:
			log.Debug("Context status for session %s not available yet: %v", s.ID, err)
		case len(info.Entries) > 0:
			log.Debug("Session %s reported %d context tasks after %d polls", s.ID, len(info.Entries), attempt)
			return
		}

		if attempt == c.opts.CreateRetries {
			break
		}
		timer := time.NewTimer(c.opts.CreateInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn("Stopped waiting for context status of session %s: %v", s.ID, ctx.Err())
			return
		case <-timer.C:
		}
	}
	log.Warn("Session %s reported no context status after %d polls", s.ID, c.opts.CreateRetries)
}

// DeleteOptions controls teardown. Without SyncContext the session is
// released immediately.
type DeleteOptions struct {
	SyncContext bool
	Wait        bool
	WaitTimeout time.Duration
}

// DeleteResult reports the teardown. Sync and Wait are zero unless
// requested.
type DeleteResult struct {
	RequestID string
	Success   bool
	Sync      *SyncResult
	Wait      *status.WaitResult
}

// Delete releases the session. With SyncContext set it first triggers a
// final upload and, when Wait is set, polls until the upload tasks settle.
// A pending or failed upload is logged and does not block deletion.
func (c *Client) Delete(ctx context.Context, s *Session, opts DeleteOptions) (*DeleteResult, error) {
	if s == nil {
		return nil, ErrNoSession
	}
	res := &DeleteResult{}

	if opts.SyncContext {
		sync, err := s.contexts.Sync(ctx, SyncOptions{Mode: status.TaskUpload})
		if err != nil {
			log.Warn("Final sync for session %s failed: %v", s.ID, err)
		} else {
			res.Sync = sync
			if !sync.Success {
				log.Warn("Final sync for session %s was rejected: %s", s.ID, sync.ErrorMessage)
			}
		}

		if opts.Wait && res.Sync != nil && res.Sync.Success {
			timeout := opts.WaitTimeout
			if timeout <= 0 {
				timeout = c.opts.WaitTimeout
			}
			wait := s.contexts.WaitForCompletion(ctx, status.Filter{TaskType: status.TaskUpload}, status.WaitOptions{
				Timeout:      timeout,
				PollInterval: c.opts.PollInterval,
			})
			res.Wait = &wait
			if !wait.Done() {
				log.Warn("Context upload for session %s did not complete before deletion: %s", s.ID, wait.Outcome)
			}
		}
	}

	resp, err := c.plane.DeleteSession(ctx, &controlplane.DeleteSessionRequest{SessionID: s.ID})
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	res.RequestID = resp.RequestID
	res.Success = resp.Success
	if !resp.Success {
		return res, fmt.Errorf("%w: %s", ErrDeleteFailed, resp.ErrorMessage)
	}
	log.Info("Deleted session %s", s.ID)
	return res, nil
}
