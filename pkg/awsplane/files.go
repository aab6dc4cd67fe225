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
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/google/uuid"
)

// FileTransferPath is where the file transfer context is mounted.
const FileTransferPath = "/tmp/file-transfer/"

func fileTransferContextID(sessionID string) string {
	return "ft-" + sessionID
}

func (p *Plane) GetPresignedUploadURL(ctx context.Context, req *controlplane.PresignRequest) (*controlplane.PresignResponse, error) {
	key, err := p.objectKey(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.cfg.PresignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for %s: %w", req.Path, err)
	}
	return &controlplane.PresignResponse{RequestID: uuid.NewString(), URL: out.URL}, nil
}

func (p *Plane) GetPresignedDownloadURL(ctx context.Context, req *controlplane.PresignRequest) (*controlplane.PresignResponse, error) {
	key, err := p.objectKey(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.cfg.PresignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download for %s: %w", req.Path, err)
	}
	return &controlplane.PresignResponse{RequestID: uuid.NewString(), URL: out.URL}, nil
}

// objectKey maps a session path to its object key through the binding's
// canonical path.
func (p *Plane) objectKey(ctx context.Context, req *controlplane.PresignRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.loadState(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	b, ok := st.binding(req.ContextID)
	if !ok {
		return "", fmt.Errorf("context %s is not bound to session %s", req.ContextID, req.SessionID)
	}
	if !within(req.Path, b.Path()) {
		return "", fmt.Errorf("path %s is outside context %s mounted at %s", req.Path, req.ContextID, b.Path())
	}
	rel := strings.TrimPrefix(req.Path, strings.TrimSuffix(b.Path(), "/"))
	return p.contextKey(b.ContextID(), path.Join(b.CanonicalPath(), rel)), nil
}

// GetAndLoadInternalContext binds the session's file transfer context on
// first request.
func (p *Plane) GetAndLoadInternalContext(ctx context.Context, req *controlplane.InternalContextRequest) (*controlplane.InternalContextResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.loadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	resp := &controlplane.InternalContextResponse{RequestID: uuid.NewString()}
	for _, t := range req.ContextTypes {
		if t != controlplane.ContextTypeFileTransfer {
			continue
		}
		id := fileTransferContextID(st.SessionID)
		if _, ok := st.binding(id); !ok {
			pol := policy.DefaultSyncPolicy()
			pol.UploadPolicy.AutoUpload = false
			pol.DownloadPolicy.AutoDownload = false
			pol.DeletePolicy.SyncLocalFile = false
			cs, err := contextsync.New(id, FileTransferPath, pol)
			if err != nil {
				return nil, err
			}
			st.Bindings = append(st.Bindings, cs)
			if err := p.saveState(ctx, st); err != nil {
				return nil, fmt.Errorf("failed to save session %s: %w", st.SessionID, err)
			}
		}
		resp.Contexts = append(resp.Contexts, controlplane.InternalContext{
			ContextID:   id,
			ContextType: controlplane.ContextTypeFileTransfer,
			ContextPath: FileTransferPath,
		})
	}
	return resp, nil
}

// snapshotCommand lists every entry under dir as "<type> <mtime> <size> <path>".
func snapshotCommand(dir string) string {
	return fmt.Sprintf("find %s -mindepth 1 -printf '%%y %%T@ %%s %%p\\n' 2>/dev/null || true", quote(dir))
}

func parseSnapshot(out string) map[string]string {
	snap := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), " ", 4)
		if len(fields) != 4 {
			continue
		}
		snap[fields[3]] = fields[0] + " " + fields[1] + " " + fields[2]
	}
	return snap
}

func pathType(entry string) string {
	if strings.HasPrefix(entry, "d") {
		return "directory"
	}
	return "file"
}

// diffSnapshots compares two listings. Directory mtime changes are not
// reported as modifications.
func diffSnapshots(prev, next map[string]string) []status.ChangeEvent {
	var events []status.ChangeEvent
	for p, entry := range next {
		old, ok := prev[p]
		switch {
		case !ok:
			events = append(events, status.ChangeEvent{EventType: status.EventCreate, Path: p, PathType: pathType(entry)})
		case old != entry && pathType(entry) == "file":
			events = append(events, status.ChangeEvent{EventType: status.EventModify, Path: p, PathType: "file"})
		}
	}
	for p, entry := range prev {
		if _, ok := next[p]; !ok {
			events = append(events, status.ChangeEvent{EventType: status.EventDelete, Path: p, PathType: pathType(entry)})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Path != events[j].Path {
			return events[i].Path < events[j].Path
		}
		return events[i].EventType < events[j].EventType
	})
	return events
}

// GetFileChanges snapshots dir on the instance and diffs it against the
// previous snapshot. The first call records a baseline and reports nothing.
// The lock is not held while the snapshot command runs.
func (p *Plane) GetFileChanges(ctx context.Context, req *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error) {
	p.mu.Lock()
	st, err := p.loadState(ctx, req.SessionID)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out, err := p.runSSMCommand(ctx, st.SessionID, []string{snapshotCommand(req.Path)})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", req.Path, err)
	}
	next := parseSnapshot(out)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reload so task updates saved while the snapshot ran are kept.
	st, err = p.loadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if st.Snapshots == nil {
		st.Snapshots = make(map[string]map[string]string)
	}
	prev, seen := st.Snapshots[req.Path]
	st.Snapshots[req.Path] = next
	if err := p.saveState(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save snapshot for %s: %w", req.Path, err)
	}

	resp := &controlplane.FileChangesResponse{RequestID: uuid.NewString(), Changes: "[]"}
	if !seen {
		return resp, nil
	}
	events := diffSnapshots(prev, next)
	if len(events) == 0 {
		return resp, nil
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	resp.Changes = string(raw)
	return resp, nil
}
