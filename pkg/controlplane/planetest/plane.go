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

// Package planetest provides an in-memory controlplane.ControlPlane for
// tests. Each session owns a map-backed filesystem, contexts live in a
// shared object store, and presigned URLs point at an HTTP handler serving
// that store.
package planetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ArchiveSuffix marks archive objects written for UploadModeArchive.
const ArchiveSuffix = ".tar.gz"

// FileTransferPath is where the file transfer context is mounted.
const FileTransferPath = "/tmp/file-transfer/"

type task struct {
	entry status.ContextStatusData
	polls int
}

type sandbox struct {
	files    map[string][]byte
	bindings []contextsync.ContextSync
	tasks    []*task
	changes  []string
}

// Plane is safe for concurrent use.
type Plane struct {
	// VisibleAfter is the number of GetContextInfo calls a task stays hidden.
	VisibleAfter int

	// CompleteAfter is the number of visible polls before a task turns terminal.
	CompleteAfter int

	// FailTasks makes every task finish as Failed.
	FailTasks bool

	mu       sync.Mutex
	sessions map[string]*sandbox
	store    map[string]map[string][]byte
	calls    map[string]int
	failures map[string]error
	nextID   int
	server   *httptest.Server
	router   *mux.Router
}

func New() *Plane {
	p := &Plane{
		sessions: make(map[string]*sandbox),
		store:    make(map[string]map[string][]byte),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
	p.router = mux.NewRouter()
	p.router.HandleFunc("/contexts/{context}/{key:.*}", p.handlePut).Methods(http.MethodPut)
	p.router.HandleFunc("/contexts/{context}/{key:.*}", p.handleGet).Methods(http.MethodGet)
	return p
}

// Serve starts the presigned URL endpoint. Call Close when done.
func (p *Plane) Serve() *Plane {
	p.server = httptest.NewServer(p.router)
	return p
}

func (p *Plane) Close() {
	if p.server != nil {
		p.server.Close()
	}
}

// FailOn makes the next call to method return err.
func (p *Plane) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
}

// Calls returns how many times method was invoked.
func (p *Plane) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// WriteFile places data in a session filesystem.
func (p *Plane) WriteFile(sessionID, filePath string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sb.files[filePath] = append([]byte(nil), data...)
	return nil
}

// ReadFile reads from a session filesystem.
func (p *Plane) ReadFile(sessionID, filePath string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sessions[sessionID]
	if !ok {
		return nil, false
	}
	data, ok := sb.files[filePath]
	return data, ok
}

// ListContext returns the sorted object keys stored for contextID under prefix.
func (p *Plane) ListContext(contextID, prefix string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for k := range p.store[contextID] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// QueueChanges appends raw diff payloads returned by successive
// GetFileChanges calls for sessionID.
func (p *Plane) QueueChanges(sessionID string, payloads ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.sessions[sessionID]; ok {
		sb.changes = append(sb.changes, payloads...)
	}
}

// Tasks returns a snapshot of every task recorded for sessionID.
func (p *Plane) Tasks(sessionID string) []status.ContextStatusData {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]status.ContextStatusData, 0, len(sb.tasks))
	for _, t := range sb.tasks {
		out = append(out, t.entry)
	}
	return out
}

// Sessions returns the ids of live sessions in creation order.
func (p *Plane) Sessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Plane) enter(method string) error {
	p.calls[method]++
	if err, ok := p.failures[method]; ok {
		delete(p.failures, method)
		return err
	}
	return nil
}

func (p *Plane) session(id string) (*sandbox, error) {
	sb, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sb, nil
}

func (p *Plane) CreateSession(_ context.Context, req *controlplane.CreateSessionRequest) (*controlplane.CreateSessionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreateSession"); err != nil {
		return nil, err
	}

	p.nextID++
	id := fmt.Sprintf("i-%017x", p.nextID)
	sb := &sandbox{files: make(map[string][]byte)}
	sb.bindings = append(sb.bindings, req.ContextSyncs...)
	p.sessions[id] = sb

	for _, b := range sb.bindings {
		if b.Policy().DownloadPolicy.AutoDownload {
			p.download(sb, b, "")
			p.record(sb, b.ContextID(), b.Path(), status.TaskDownload)
		}
	}

	return &controlplane.CreateSessionResponse{RequestID: uuid.NewString(), SessionID: id}, nil
}

func (p *Plane) DeleteSession(_ context.Context, req *controlplane.DeleteSessionRequest) (*controlplane.OperationResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("DeleteSession"); err != nil {
		return nil, err
	}
	if _, err := p.session(req.SessionID); err != nil {
		return &controlplane.OperationResponse{RequestID: uuid.NewString(), ErrorMessage: err.Error()}, nil
	}
	delete(p.sessions, req.SessionID)
	return &controlplane.OperationResponse{RequestID: uuid.NewString(), Success: true}, nil
}

func (p *Plane) SyncContext(_ context.Context, req *controlplane.SyncContextRequest) (*controlplane.OperationResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SyncContext"); err != nil {
		return nil, err
	}
	sb, err := p.session(req.SessionID)
	if err != nil {
		return &controlplane.OperationResponse{RequestID: uuid.NewString(), ErrorMessage: err.Error()}, nil
	}

	for _, b := range sb.bindings {
		if req.ContextID != "" && b.ContextID() != req.ContextID {
			continue
		}
		if req.Path != "" && !within(req.Path, b.Path()) {
			continue
		}
		taskPath := b.Path()
		if req.Path != "" {
			taskPath = req.Path
		}

		upload := b.Policy().UploadPolicy.AutoUpload
		download := false
		switch req.Mode {
		case status.TaskUpload:
			upload = true
		case status.TaskDownload:
			upload, download = false, true
		}

		if upload {
			p.upload(sb, b, req.Path)
			p.record(sb, b.ContextID(), taskPath, status.TaskUpload)
		}
		if download {
			p.download(sb, b, req.Path)
			p.record(sb, b.ContextID(), taskPath, status.TaskDownload)
		}
	}

	return &controlplane.OperationResponse{RequestID: uuid.NewString(), Success: true}, nil
}

func (p *Plane) GetContextInfo(_ context.Context, req *controlplane.GetContextInfoRequest) (*controlplane.GetContextInfoResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetContextInfo"); err != nil {
		return nil, err
	}
	sb, err := p.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	filter := status.Filter{ContextID: req.ContextID, Path: req.Path, TaskType: req.TaskType}
	var entries []status.ContextStatusData
	for _, t := range sb.tasks {
		t.polls++
		if t.polls <= p.VisibleAfter {
			continue
		}
		if t.polls > p.VisibleAfter+p.CompleteAfter && !t.entry.IsTerminal() {
			if p.FailTasks {
				t.entry.Status = "Failed"
				t.entry.ErrorMessage = "reconciliation failed"
			} else {
				t.entry.Status = "Success"
			}
			t.entry.FinishTime = time.Now().Unix()
		}
		if filter.Matches(t.entry) {
			entries = append(entries, t.entry)
		}
	}

	raw, err := status.EncodeContextStatus(entries)
	if err != nil {
		return nil, err
	}
	return &controlplane.GetContextInfoResponse{RequestID: uuid.NewString(), ContextStatus: raw}, nil
}

func (p *Plane) GetPresignedUploadURL(_ context.Context, req *controlplane.PresignRequest) (*controlplane.PresignResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetPresignedUploadURL"); err != nil {
		return nil, err
	}
	return p.presign(req)
}

func (p *Plane) GetPresignedDownloadURL(_ context.Context, req *controlplane.PresignRequest) (*controlplane.PresignResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetPresignedDownloadURL"); err != nil {
		return nil, err
	}
	return p.presign(req)
}

func (p *Plane) presign(req *controlplane.PresignRequest) (*controlplane.PresignResponse, error) {
	if p.server == nil {
		return nil, fmt.Errorf("presign endpoint not started")
	}
	if _, err := p.session(req.SessionID); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/contexts/%s/%s?signature=%s", p.server.URL, req.ContextID, strings.TrimPrefix(req.Path, "/"), uuid.NewString())
	return &controlplane.PresignResponse{RequestID: uuid.NewString(), URL: u}, nil
}

func (p *Plane) GetAndLoadInternalContext(_ context.Context, req *controlplane.InternalContextRequest) (*controlplane.InternalContextResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetAndLoadInternalContext"); err != nil {
		return nil, err
	}
	sb, err := p.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	resp := &controlplane.InternalContextResponse{RequestID: uuid.NewString()}
	for _, t := range req.ContextTypes {
		if t != controlplane.ContextTypeFileTransfer {
			continue
		}
		id := "ft-" + req.SessionID
		bound := false
		for _, b := range sb.bindings {
			if b.ContextID() == id {
				bound = true
			}
		}
		if !bound {
			pol := policy.DefaultSyncPolicy()
			pol.UploadPolicy.AutoUpload = false
			pol.DownloadPolicy.AutoDownload = false
			sb.bindings = append(sb.bindings, contextsync.MustNew(id, FileTransferPath, pol))
		}
		resp.Contexts = append(resp.Contexts, controlplane.InternalContext{
			ContextID:   id,
			ContextType: controlplane.ContextTypeFileTransfer,
			ContextPath: FileTransferPath,
		})
	}
	return resp, nil
}

func (p *Plane) GetFileChanges(_ context.Context, req *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetFileChanges"); err != nil {
		return nil, err
	}
	sb, err := p.session(req.SessionID)
	if err != nil {
		return nil, err
	}
	raw := "[]"
	if len(sb.changes) > 0 {
		raw, sb.changes = sb.changes[0], sb.changes[1:]
	}
	return &controlplane.FileChangesResponse{RequestID: uuid.NewString(), Changes: raw}, nil
}

func (p *Plane) record(sb *sandbox, contextID, taskPath string, taskType status.TaskType) {
	sb.tasks = append(sb.tasks, &task{entry: status.ContextStatusData{
		ContextID: contextID,
		Path:      taskPath,
		Status:    "InProgress",
		TaskType:  taskType,
		StartTime: time.Now().Unix(),
	}})
}

// upload copies session files under the binding (optionally only under
// only) into the context store.
func (p *Plane) upload(sb *sandbox, b contextsync.ContextSync, only string) {
	objects := p.objects(b.ContextID())
	canonical := b.CanonicalPath()
	pol := b.Policy()

	files := make(map[string][]byte)
	for fp, data := range sb.files {
		if !within(fp, b.Path()) || (only != "" && !within(fp, only)) {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(fp, b.Path()), "/")
		if excluded(pol, rel) {
			continue
		}
		files[rel] = data
	}

	if pol.UploadPolicy.UploadMode == policy.UploadModeArchive {
		bundle, _ := json.Marshal(files)
		objects[archiveKey(canonical)] = bundle
		return
	}
	for rel, data := range files {
		objects[path.Join(canonical, rel)] = append([]byte(nil), data...)
	}
}

// download materializes the context objects for the binding into the
// session filesystem, expanding archives when the policy asks for it.
func (p *Plane) download(sb *sandbox, b contextsync.ContextSync, only string) {
	objects := p.objects(b.ContextID())
	canonical := b.CanonicalPath()
	pol := b.Policy()

	for key, data := range objects {
		if !within(key, canonical) {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(key, canonical), "/")
		target := path.Join(b.Path(), rel)
		if only != "" && !within(target, only) {
			continue
		}

		if key == archiveKey(canonical) && pol.ExtractPolicy.Extract {
			var files map[string][]byte
			if err := json.Unmarshal(data, &files); err == nil {
				for r, d := range files {
					sb.files[path.Join(b.Path(), r)] = append([]byte(nil), d...)
				}
			}
			if pol.ExtractPolicy.DeleteSrcFile {
				continue
			}
		}
		sb.files[target] = append([]byte(nil), data...)
	}
}

func (p *Plane) objects(contextID string) map[string][]byte {
	objects, ok := p.store[contextID]
	if !ok {
		objects = make(map[string][]byte)
		p.store[contextID] = objects
	}
	return objects
}

func (p *Plane) handlePut(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.objects(vars["context"])["/"+vars["key"]] = data
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *Plane) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p.mu.Lock()
	data, ok := p.store[vars["context"]]["/"+vars["key"]]
	p.mu.Unlock()
	if !ok {
		http.Error(w, "NoSuchKey", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func archiveKey(canonical string) string {
	return path.Join(canonical, path.Base(canonical)+ArchiveSuffix)
}

func within(p, dir string) bool {
	dir = strings.TrimSuffix(dir, "/")
	return p == dir || strings.HasPrefix(p, dir+"/")
}

func excluded(pol *policy.SyncPolicy, rel string) bool {
	for _, wl := range pol.BWList.WhiteLists {
		if wl.Path != "" && !within(rel, strings.Trim(wl.Path, "/")) {
			return true
		}
		for _, ex := range wl.ExcludePaths {
			if within(rel, strings.Trim(ex, "/")) {
				return true
			}
		}
	}
	return false
}
