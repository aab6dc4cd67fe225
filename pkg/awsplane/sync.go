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

package awsplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/google/uuid"
)

var _ controlplane.ControlPlane = (*Plane)(nil)

func within(p, dir string) bool {
	dir = strings.TrimSuffix(dir, "/")
	p = strings.TrimSuffix(p, "/")
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// SyncContext starts one task per selected binding. Without a mode, each
// binding uploads when its policy enables auto upload; bindings without it
// are skipped.
func (p *Plane) SyncContext(ctx context.Context, req *controlplane.SyncContextRequest) (*controlplane.OperationResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp := &controlplane.OperationResponse{RequestID: uuid.NewString()}
	st, err := p.loadState(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			resp.ErrorMessage = err.Error()
			return resp, nil
		}
		return nil, err
	}

	matched := 0
	for _, b := range st.Bindings {
		if req.ContextID != "" && b.ContextID() != req.ContextID {
			continue
		}
		if req.Path != "" && !within(req.Path, b.Path()) {
			continue
		}
		matched++

		taskType := req.Mode
		if taskType == "" {
			if !b.Policy().UploadPolicy.AutoUpload {
				continue
			}
			taskType = status.TaskUpload
		}

		rec, err := p.startTask(ctx, st.SessionID, b, req.Path, taskType)
		if err != nil {
			rec.Status = "Failed"
			rec.ErrorMessage = err.Error()
			rec.FinishTime = p.now().Unix()
			log.Warn("Failed to start %s of context %s: %v", taskType, b.ContextID(), err)
		}
		st.Tasks = append(st.Tasks, rec)
	}

	if matched == 0 {
		resp.ErrorMessage = fmt.Sprintf("no context binding matches context %q path %q", req.ContextID, req.Path)
		return resp, nil
	}

	if err := p.saveState(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", st.SessionID, err)
	}
	resp.Success = true
	return resp, nil
}

// GetContextInfo refreshes running tasks from their SSM invocations and
// returns the matching ones in the nested envelope format.
func (p *Plane) GetContextInfo(ctx context.Context, req *controlplane.GetContextInfoRequest) (*controlplane.GetContextInfoResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.loadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	changed, err := p.refreshTasks(ctx, st)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := p.saveState(ctx, st); err != nil {
			log.Warn("Failed to persist task status for %s: %v", st.SessionID, err)
		}
	}

	filter := status.Filter{ContextID: req.ContextID, Path: req.Path, TaskType: req.TaskType}
	var entries []status.ContextStatusData
	for _, t := range st.Tasks {
		if e := t.entry(); filter.Matches(e) {
			entries = append(entries, e)
		}
	}

	raw, err := status.EncodeContextStatus(entries)
	if err != nil {
		return nil, err
	}
	return &controlplane.GetContextInfoResponse{RequestID: uuid.NewString(), ContextStatus: raw}, nil
}

// refreshTasks pulls the status of every running task from its SSM
// invocation. Invocations SSM has not registered yet are left as they are.
func (p *Plane) refreshTasks(ctx context.Context, st *sessionState) (bool, error) {
	changed := false
	for i := range st.Tasks {
		t := &st.Tasks[i]
		if status.IsTerminal(t.Status) || t.CommandID == "" {
			continue
		}

		out, err := p.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(t.CommandID),
			InstanceId: aws.String(st.SessionID),
		})
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvocationDoesNotExist" {
				continue
			}
			return changed, fmt.Errorf("failed to get command invocation %s: %w", t.CommandID, err)
		}

		next := invocationStatus(out.Status)
		if next == t.Status {
			continue
		}
		t.Status = next
		changed = true
		if status.IsTerminal(next) {
			t.FinishTime = p.now().Unix()
			if status.IsFailure(next) {
				t.ErrorMessage = strings.TrimSpace(aws.ToString(out.StandardErrorContent))
			}
		}
	}
	return changed, nil
}

// uploadRunning reports whether a whole-binding upload of b is still in
// flight.
func (st *sessionState) uploadRunning(b contextsync.ContextSync) bool {
	for _, t := range st.Tasks {
		if t.ContextID == b.ContextID() && t.Path == b.Path() &&
			t.TaskType == status.TaskUpload && !status.IsTerminal(t.Status) {
			return true
		}
	}
	return false
}
