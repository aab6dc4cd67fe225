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

// Package transfer moves single files between the local machine and a
// session through presigned URLs on the session's file transfer context.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/retry"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/gabriel-vasile/mimetype"
	"github.com/natefinch/atomic"
)

var (
	ErrLocalFileNotFound  = errors.New("local file not found")
	ErrDestinationExists  = errors.New("destination already exists")
	ErrContextUnavailable = errors.New("file transfer context unavailable")
	ErrSyncRejected       = errors.New("sync request rejected")
)

const (
	defaultWaitTimeout  = 30 * time.Second
	defaultPollInterval = 1500 * time.Millisecond
)

// Options tune a single transfer. Overwrite only applies to downloads.
type Options struct {
	Overwrite    bool
	Wait         bool
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func (o Options) waitOptions() status.WaitOptions {
	w := status.WaitOptions{Timeout: o.WaitTimeout, PollInterval: o.PollInterval}
	if w.Timeout <= 0 {
		w.Timeout = defaultWaitTimeout
	}
	if w.PollInterval <= 0 {
		w.PollInterval = defaultPollInterval
	}
	return w
}

// Result describes one transfer. Success covers the synchronous steps only;
// Reconciliation holds the outcome of the optional wait.
type Result struct {
	Success    bool
	LocalPath  string
	RemotePath string

	// Bytes sent on upload or received on download.
	Bytes int64

	PresignRequestID string
	SyncRequestID    string
	HTTPStatus       int

	// Waited is set when the transfer polled for reconciliation.
	Waited         bool
	Reconciliation status.WaitResult

	Err error
}

func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Err = err
	return r
}

// Channel is bound to one session. The file transfer context is resolved
// on first use and remembered. A Channel is not safe for concurrent use.
type Channel struct {
	plane      controlplane.ControlPlane
	sessionID  string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration

	contextID   string
	contextPath string
}

type Option func(*Channel)

func WithHTTPClient(c *http.Client) Option {
	return func(ch *Channel) { ch.httpClient = c }
}

// WithRetry sets the retry budget for presigned HTTP calls.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(ch *Channel) {
		ch.maxRetries = maxRetries
		ch.retryDelay = baseDelay
	}
}

func New(plane controlplane.ControlPlane, sessionID string, opts ...Option) *Channel {
	ch := &Channel{
		plane:      plane,
		sessionID:  sessionID,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// ContextID returns the resolved transfer context, empty before first use.
func (c *Channel) ContextID() string { return c.contextID }

func (c *Channel) ContextPath() string { return c.contextPath }

// EnsureContext resolves the session's file transfer context once.
func (c *Channel) EnsureContext(ctx context.Context) error {
	if c.contextID != "" {
		return nil
	}

	resp, err := c.plane.GetAndLoadInternalContext(ctx, &controlplane.InternalContextRequest{
		SessionID:    c.sessionID,
		ContextTypes: []string{controlplane.ContextTypeFileTransfer},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}

	for _, ic := range resp.Contexts {
		if ic.ContextType == controlplane.ContextTypeFileTransfer && ic.ContextID != "" {
			c.contextID = ic.ContextID
			c.contextPath = ic.ContextPath
			log.Debug("Resolved file transfer context %s at %s", c.contextID, c.contextPath)
			return nil
		}
	}
	return fmt.Errorf("%w: session %s returned no %s context", ErrContextUnavailable, c.sessionID, controlplane.ContextTypeFileTransfer)
}

// UploadFile puts localPath into the transfer context and asks the session
// to pull it to remotePath. With Wait set it waits on the download task for
// remotePath, since the session pulls the file from the context store.
func (c *Channel) UploadFile(ctx context.Context, localPath, remotePath string, opts Options) *Result {
	res := &Result{LocalPath: localPath, RemotePath: remotePath}

	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		return res.fail(fmt.Errorf("%w: %s", ErrLocalFileNotFound, localPath))
	}
	if err := validation.ValidateContextPath(remotePath); err != nil {
		return res.fail(err)
	}
	if err := c.EnsureContext(ctx); err != nil {
		return res.fail(err)
	}

	presign, err := c.plane.GetPresignedUploadURL(ctx, &controlplane.PresignRequest{
		SessionID: c.sessionID,
		ContextID: c.contextID,
		Path:      remotePath,
	})
	if err != nil {
		return res.fail(fmt.Errorf("failed to get upload URL: %w", err))
	}
	res.PresignRequestID = presign.RequestID

	log.Info("Uploading %s to %s:%s", localPath, c.sessionID, remotePath)
	if err := retry.Do(ctx, func() error {
		n, code, err := c.put(ctx, presign.URL, localPath)
		res.Bytes, res.HTTPStatus = n, code
		return err
	}, c.maxRetries, c.retryDelay); err != nil {
		return res.fail(fmt.Errorf("failed to upload %s: %w", localPath, err))
	}

	sync, err := c.sync(ctx, remotePath, status.TaskDownload)
	if err != nil {
		return res.fail(err)
	}
	res.SyncRequestID = sync.RequestID
	res.Success = true

	if opts.Wait {
		c.wait(ctx, res, remotePath, status.TaskDownload, opts)
	}
	return res
}

// DownloadFile stages remotePath into the transfer context and fetches it
// to localPath. With Wait set it waits on the upload task that stages it.
// localPath is only replaced once the full body has arrived.
func (c *Channel) DownloadFile(ctx context.Context, remotePath, localPath string, opts Options) *Result {
	res := &Result{LocalPath: localPath, RemotePath: remotePath}

	if _, err := os.Stat(localPath); err == nil && !opts.Overwrite {
		return res.fail(fmt.Errorf("%w: %s", ErrDestinationExists, localPath))
	}
	if err := validation.ValidateContextPath(remotePath); err != nil {
		return res.fail(err)
	}
	if err := c.EnsureContext(ctx); err != nil {
		return res.fail(err)
	}

	sync, err := c.sync(ctx, remotePath, status.TaskUpload)
	if err != nil {
		return res.fail(err)
	}
	res.SyncRequestID = sync.RequestID

	if opts.Wait {
		c.wait(ctx, res, remotePath, status.TaskUpload, opts)
	}

	presign, err := c.plane.GetPresignedDownloadURL(ctx, &controlplane.PresignRequest{
		SessionID: c.sessionID,
		ContextID: c.contextID,
		Path:      remotePath,
	})
	if err != nil {
		return res.fail(fmt.Errorf("failed to get download URL: %w", err))
	}
	res.PresignRequestID = presign.RequestID

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return res.fail(fmt.Errorf("failed to create directory for %s: %w", localPath, err))
	}

	log.Info("Downloading %s:%s to %s", c.sessionID, remotePath, localPath)
	if err := retry.Do(ctx, func() error {
		n, code, err := c.get(ctx, presign.URL, localPath)
		res.Bytes, res.HTTPStatus = n, code
		return err
	}, c.maxRetries, c.retryDelay); err != nil {
		return res.fail(fmt.Errorf("failed to download %s: %w", remotePath, err))
	}

	res.Success = true
	return res
}

func (c *Channel) sync(ctx context.Context, remotePath string, mode status.TaskType) (*controlplane.OperationResponse, error) {
	resp, err := c.plane.SyncContext(ctx, &controlplane.SyncContextRequest{
		SessionID: c.sessionID,
		ContextID: c.contextID,
		Path:      remotePath,
		Mode:      mode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync %s: %w", remotePath, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrSyncRejected, resp.ErrorMessage)
	}
	return resp, nil
}

func (c *Channel) wait(ctx context.Context, res *Result, remotePath string, task status.TaskType, opts Options) {
	filter := status.Filter{ContextID: c.contextID, Path: remotePath, TaskType: task}
	fetch := func(ctx context.Context) ([]status.ContextStatusData, error) {
		info, err := c.plane.GetContextInfo(ctx, &controlplane.GetContextInfoRequest{
			SessionID: c.sessionID,
			ContextID: c.contextID,
			Path:      remotePath,
			TaskType:  task,
		})
		if err != nil {
			return nil, err
		}
		return status.ParseContextStatus(info.ContextStatus)
	}

	res.Waited = true
	res.Reconciliation = status.Wait(ctx, fetch, filter, opts.waitOptions())
	if !res.Reconciliation.Done() {
		log.Warn("%s task for %s did not complete: %s", task, remotePath, res.Reconciliation.Outcome)
	}
}

func (c *Channel) put(ctx context.Context, url, localPath string) (int64, int, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Warn("Failed to close file %s: %v", localPath, closeErr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return 0, 0, err
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(localPath); err == nil {
		contentType = mt.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return 0, 0, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, resp.StatusCode, &retry.StatusError{Method: http.MethodPut, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return info.Size(), resp.StatusCode, nil
}

func (c *Channel) get(ctx context.Context, url, localPath string) (int64, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, resp.StatusCode, &retry.StatusError{Method: http.MethodGet, StatusCode: resp.StatusCode, Body: string(body)}
	}

	counter := &countingReader{r: resp.Body}
	if err := atomic.WriteFile(localPath, counter); err != nil {
		return counter.n, resp.StatusCode, fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return counter.n, resp.StatusCode, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
