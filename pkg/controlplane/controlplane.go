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

// Package controlplane defines the remote calls the synchronization
// subsystem depends on. Only the fields this module reads or writes are
// modelled; transport, signing and retries belong to the implementation.
package controlplane

import (
	"context"

	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/status"
)

// ContextTypeFileTransfer is the internal context used for single-file
// transfers.
const ContextTypeFileTransfer = "file_transfer"

// ControlPlane is implemented by every backend able to host sessions.
type ControlPlane interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error)
	DeleteSession(ctx context.Context, req *DeleteSessionRequest) (*OperationResponse, error)
	SyncContext(ctx context.Context, req *SyncContextRequest) (*OperationResponse, error)
	GetContextInfo(ctx context.Context, req *GetContextInfoRequest) (*GetContextInfoResponse, error)
	GetPresignedUploadURL(ctx context.Context, req *PresignRequest) (*PresignResponse, error)
	GetPresignedDownloadURL(ctx context.Context, req *PresignRequest) (*PresignResponse, error)
	GetAndLoadInternalContext(ctx context.Context, req *InternalContextRequest) (*InternalContextResponse, error)
	GetFileChanges(ctx context.Context, req *FileChangesRequest) (*FileChangesResponse, error)
}

type CreateSessionRequest struct {
	// ImageID selects the sandbox image or pool.
	ImageID      string                    `json:"imageId,omitempty"`
	Labels       map[string]string         `json:"labels,omitempty"`
	ContextSyncs []contextsync.ContextSync `json:"contextSyncs,omitempty"`
}

type CreateSessionResponse struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
}

type DeleteSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// OperationResponse reports whether a request was accepted. It says nothing
// about the completion of any asynchronous work the request started.
type OperationResponse struct {
	RequestID    string `json:"requestId"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// SyncContextRequest asks for reconciliation. Empty ContextID and Path
// select every binding; an empty Mode lets each binding's policy decide.
type SyncContextRequest struct {
	SessionID string          `json:"sessionId"`
	ContextID string          `json:"contextId,omitempty"`
	Path      string          `json:"path,omitempty"`
	Mode      status.TaskType `json:"mode,omitempty"`
}

type GetContextInfoRequest struct {
	SessionID string          `json:"sessionId"`
	ContextID string          `json:"contextId,omitempty"`
	Path      string          `json:"path,omitempty"`
	TaskType  status.TaskType `json:"taskType,omitempty"`
}

// GetContextInfoResponse carries the raw status payload, decoded by
// status.ParseContextStatus.
type GetContextInfoResponse struct {
	RequestID     string `json:"requestId"`
	ContextStatus string `json:"contextStatus"`
}

type PresignRequest struct {
	SessionID string `json:"sessionId"`
	ContextID string `json:"contextId"`
	Path      string `json:"path"`
}

type PresignResponse struct {
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
}

type InternalContextRequest struct {
	SessionID    string   `json:"sessionId"`
	ContextTypes []string `json:"contextTypes"`
}

type InternalContext struct {
	ContextID   string `json:"contextId"`
	ContextType string `json:"contextType"`
	ContextPath string `json:"contextPath"`
}

type InternalContextResponse struct {
	RequestID string            `json:"requestId"`
	Contexts  []InternalContext `json:"contexts"`
}

type FileChangesRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

// FileChangesResponse carries the raw directory diff, decoded by
// status.ParseChangeEvents.
type FileChangesResponse struct {
	RequestID string `json:"requestId"`
	Changes   string `json:"changes"`
}
