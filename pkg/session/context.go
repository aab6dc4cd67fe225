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

package session

import (
	"context"
	"fmt"

	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/status"
)

// SyncOptions narrows a sync. Empty fields select every binding and let
// each binding's policy pick the direction.
type SyncOptions struct {
	ContextID string
	Path      string
	Mode      status.TaskType
}

// SyncResult only says whether the request was accepted. Reconciliation
// runs asynchronously and is observed through Info.
type SyncResult struct {
	Success      bool
	RequestID    string
	ErrorMessage string
}

type InfoResult struct {
	RequestID string
	Entries   []status.ContextStatusData
}

// ContextManager triggers and observes reconciliation for one session.
type ContextManager struct {
	session *Session
}

func (m *ContextManager) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if m == nil || m.session == nil {
		return nil, ErrNoSession
	}
	switch opts.Mode {
	case "", status.TaskUpload, status.TaskDownload:
	default:
		return nil, fmt.Errorf("%w: sync mode %q", ErrInvalidOption, opts.Mode)
	}

	resp, err := m.session.client.plane.SyncContext(ctx, &controlplane.SyncContextRequest{
		SessionID: m.session.ID,
		ContextID: opts.ContextID,
		Path:      opts.Path,
		Mode:      opts.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync context for session %s: %w", m.session.ID, err)
	}

	log.Debug("Sync requested for session %s (context=%q path=%q mode=%q): request %s",
		m.session.ID, opts.ContextID, opts.Path, opts.Mode, resp.RequestID)
	return &SyncResult{
		Success:      resp.Success,
		RequestID:    resp.RequestID,
		ErrorMessage: resp.ErrorMessage,
	}, nil
}

// Info returns the reconciliation tasks matching filter. Entries are
// filtered again locally in case the control plane ignores a field.
func (m *ContextManager) Info(ctx context.Context, filter status.Filter) (*InfoResult, error) {
	if m == nil || m.session == nil {
		return nil, ErrNoSession
	}

	resp, err := m.session.client.plane.GetContextInfo(ctx, &controlplane.GetContextInfoRequest{
		SessionID: m.session.ID,
		ContextID: filter.ContextID,
		Path:      filter.Path,
		TaskType:  filter.TaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get context info for session %s: %w", m.session.ID, err)
	}

	entries, err := status.ParseContextStatus(resp.ContextStatus)
	if err != nil {
		return nil, err
	}
	return &InfoResult{RequestID: resp.RequestID, Entries: filter.Apply(entries)}, nil
}

// WaitForCompletion polls Info until every matching task is terminal or
// the timeout expires. Expiry yields a Pending outcome, never an error.
func (m *ContextManager) WaitForCompletion(ctx context.Context, filter status.Filter, opts status.WaitOptions) status.WaitResult {
	if m == nil || m.session == nil {
		return status.WaitResult{Outcome: status.Pending, Err: ErrNoSession}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = m.session.client.opts.WaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = m.session.client.opts.PollInterval
	}

	fetch := func(ctx context.Context) ([]status.ContextStatusData, error) {
		info, err := m.Info(ctx, filter)
		if err != nil {
			return nil, err
		}
		return info.Entries, nil
	}
	return status.Wait(ctx, fetch, filter, opts)
}

// SyncAndWait triggers a sync and, when accepted, waits for the tasks it
// started. The wait filter follows the sync options; an empty mode waits
// on tasks of either direction.
func (m *ContextManager) SyncAndWait(ctx context.Context, opts SyncOptions, wait status.WaitOptions) (*SyncResult, status.WaitResult, error) {
	res, err := m.Sync(ctx, opts)
	if err != nil {
		return nil, status.WaitResult{}, err
	}
	if !res.Success {
		return res, status.WaitResult{Outcome: status.Failed}, nil
	}

	filter := status.Filter{ContextID: opts.ContextID, Path: opts.Path, TaskType: opts.Mode}
	return res, m.WaitForCompletion(ctx, filter, wait), nil
}
