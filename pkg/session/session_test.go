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
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane/planetest"
	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		CreateRetries:  5,
		CreateInterval: time.Millisecond,
		PollInterval:   time.Millisecond,
		WaitTimeout:    time.Second,
	}
}

func newClient(t *testing.T) (*Client, *planetest.Plane) {
	t.Helper()
	plane := planetest.New().Serve()
	t.Cleanup(plane.Close)
	return NewClient(plane, testOptions()), plane
}

func binding(t *testing.T, ctxID, p string, mutate func(*policy.SyncPolicy)) contextsync.ContextSync {
	t.Helper()
	pol := policy.DefaultSyncPolicy()
	if mutate != nil {
		mutate(pol)
	}
	cs, err := contextsync.New(ctxID, p, pol)
	require.NoError(t, err)
	return cs
}

func withSyncs(syncs ...contextsync.ContextSync) CreateParams {
	return CreateParams{ImageID: "linux_latest", Config: contextsync.SessionConfig{ContextSyncs: syncs}}
}

func TestCreate_WithoutBindingsSkipsStatusPolling(t *testing.T) {
	client, plane := newClient(t)

	s, err := client.Create(context.Background(), CreateParams{})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.RequestID)
	assert.Zero(t, plane.Calls("GetContextInfo"))
}

func TestCreate_PollsUntilStatusAppears(t *testing.T) {
	client, plane := newClient(t)
	plane.VisibleAfter = 2

	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/home/user/data", nil)))
	require.NoError(t, err)
	assert.Equal(t, 3, plane.Calls("GetContextInfo"))
	assert.Len(t, s.Bindings(), 1)
}

func TestCreate_MissingStatusNeverFails(t *testing.T) {
	client, plane := newClient(t)
	plane.VisibleAfter = 1000

	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/home/user/data", nil)))
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 5, plane.Calls("GetContextInfo"))
}

func TestCreate_StatusErrorsAreTolerated(t *testing.T) {
	client, plane := newClient(t)
	plane.FailOn("GetContextInfo", errors.New("throttled"))

	_, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/home/user/data", nil)))
	require.NoError(t, err)
	assert.Equal(t, 2, plane.Calls("GetContextInfo"))
}

func TestCreate_PlaneError(t *testing.T) {
	client, plane := newClient(t)
	plane.FailOn("CreateSession", errors.New("quota exceeded"))

	_, err := client.Create(context.Background(), CreateParams{})
	assert.ErrorIs(t, err, ErrCreateFailed)
}

func TestCreate_IncludesExtensionBindings(t *testing.T) {
	client, _ := newClient(t)
	ext, err := contextsync.NewExtensionOption("ext-store", []string{"ext-a", "ext-b"})
	require.NoError(t, err)

	params := withSyncs(binding(t, "ctx-1", "/home/user/data", nil))
	params.Config.Extensions = ext

	s, err := client.Create(context.Background(), params)
	require.NoError(t, err)

	got := s.Bindings()
	require.Len(t, got, 3)
	assert.Equal(t, "ctx-1", got[0].ContextID())
	assert.Equal(t, contextsync.ExtensionMountPrefix+"ext-a", got[1].Path())
	assert.Equal(t, contextsync.ExtensionMountPrefix+"ext-b", got[2].Path())
	assert.Len(t, params.Config.ContextSyncs, 1)
}

func TestSync_RejectsUnknownMode(t *testing.T) {
	client, _ := newClient(t)
	s, err := client.Create(context.Background(), CreateParams{})
	require.NoError(t, err)

	_, err = s.Context().Sync(context.Background(), SyncOptions{Mode: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestInfo_FiltersEntries(t *testing.T) {
	client, _ := newClient(t)
	s, err := client.Create(context.Background(), withSyncs(
		binding(t, "ctx-a", "/data/a", nil),
		binding(t, "ctx-b", "/data/b", nil),
	))
	require.NoError(t, err)

	_, err = s.Context().Sync(context.Background(), SyncOptions{Mode: status.TaskUpload})
	require.NoError(t, err)

	all, err := s.Context().Info(context.Background(), status.Filter{})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 4)

	uploads, err := s.Context().Info(context.Background(), status.Filter{ContextID: "ctx-a", TaskType: status.TaskUpload})
	require.NoError(t, err)
	require.Len(t, uploads.Entries, 1)
	assert.Equal(t, "/data/a", uploads.Entries[0].Path)
	assert.NotEmpty(t, uploads.RequestID)
}

func TestWaitForCompletion_SoftTimeout(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/data", nil)))
	require.NoError(t, err)
	plane.CompleteAfter = 1000

	_, err = s.Context().Sync(context.Background(), SyncOptions{Mode: status.TaskUpload})
	require.NoError(t, err)

	res := s.Context().WaitForCompletion(context.Background(), status.Filter{TaskType: status.TaskUpload},
		status.WaitOptions{Timeout: 10 * time.Millisecond, PollInterval: 2 * time.Millisecond})
	assert.Equal(t, status.Pending, res.Outcome)
	assert.NoError(t, res.Err)
}

func TestContextManager_NilSession(t *testing.T) {
	var m *ContextManager

	_, err := m.Sync(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = m.Info(context.Background(), status.Filter{})
	assert.ErrorIs(t, err, ErrNoSession)
	res := m.WaitForCompletion(context.Background(), status.Filter{}, status.WaitOptions{})
	assert.ErrorIs(t, res.Err, ErrNoSession)
}

// fileWrittenAndUploaded writes a 5KB file into the session, syncs it up
// and waits for the upload task to settle.
func fileWrittenAndUploaded(t *testing.T, plane *planetest.Plane, s *Session, filePath string) []byte {
	t.Helper()
	data := bytes.Repeat([]byte{'x'}, 5*1024)
	require.NoError(t, plane.WriteFile(s.ID, filePath, data))

	sync, err := s.Context().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	require.True(t, sync.Success)

	var done bool
	for i := 0; i < 10 && !done; i++ {
		info, err := s.Context().Info(context.Background(), status.Filter{TaskType: status.TaskUpload})
		require.NoError(t, err)
		for _, e := range info.Entries {
			done = done || e.IsTerminal()
		}
	}
	require.True(t, done, "upload task never reached a terminal state")
	return data
}

func TestContextPersistsAcrossSessions_FileMode(t *testing.T) {
	client, plane := newClient(t)
	cs := binding(t, "ctx-persist", "/home/user/data", nil)

	first, err := client.Create(context.Background(), withSyncs(cs))
	require.NoError(t, err)
	data := fileWrittenAndUploaded(t, plane, first, "/home/user/data/report.txt")

	assert.Equal(t, []string{"/home/user/data/report.txt"}, plane.ListContext("ctx-persist", "/home/user/data"))

	_, err = client.Delete(context.Background(), first, DeleteOptions{})
	require.NoError(t, err)

	second, err := client.Create(context.Background(), withSyncs(cs))
	require.NoError(t, err)
	got, ok := plane.ReadFile(second.ID, "/home/user/data/report.txt")
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestContextPersistsAcrossSessions_ArchiveMode(t *testing.T) {
	client, plane := newClient(t)
	cs := binding(t, "ctx-archive", "/home/user/data", func(p *policy.SyncPolicy) {
		p.UploadPolicy.UploadMode = policy.UploadModeArchive
	})

	first, err := client.Create(context.Background(), withSyncs(cs))
	require.NoError(t, err)
	data := fileWrittenAndUploaded(t, plane, first, "/home/user/data/report.txt")

	keys := plane.ListContext("ctx-archive", "/home/user/data")
	require.Len(t, keys, 1)
	assert.True(t, strings.HasSuffix(keys[0], planetest.ArchiveSuffix), keys[0])

	_, err = client.Delete(context.Background(), first, DeleteOptions{})
	require.NoError(t, err)

	second, err := client.Create(context.Background(), withSyncs(cs))
	require.NoError(t, err)
	got, ok := plane.ReadFile(second.ID, "/home/user/data/report.txt")
	require.True(t, ok)
	assert.Equal(t, data, got)
	_, archiveKept := plane.ReadFile(second.ID, keys[0])
	assert.False(t, archiveKept)
}

func TestContextMappingAcrossPaths(t *testing.T) {
	client, plane := newClient(t)
	mapped := func(p *policy.SyncPolicy) { p.MappingPolicy = &policy.MappingPolicy{Path: "/shared/cache"} }

	first, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-map", "/linux/cache", mapped)))
	require.NoError(t, err)
	data := fileWrittenAndUploaded(t, plane, first, "/linux/cache/index.db")
	_, err = client.Delete(context.Background(), first, DeleteOptions{})
	require.NoError(t, err)

	second, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-map", "/windows/cache", mapped)))
	require.NoError(t, err)
	got, ok := plane.ReadFile(second.ID, path.Join("/windows/cache", "index.db"))
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestDelete_SyncsAndWaitsFirst(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/data", nil)))
	require.NoError(t, err)
	require.NoError(t, plane.WriteFile(s.ID, "/data/out.log", []byte("done")))

	res, err := client.Delete(context.Background(), s, DeleteOptions{SyncContext: true, Wait: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.Sync)
	assert.True(t, res.Sync.Success)
	require.NotNil(t, res.Wait)
	assert.Equal(t, status.Completed, res.Wait.Outcome)
	assert.Equal(t, []string{"/data/out.log"}, plane.ListContext("ctx-1", "/data"))
}

func TestDelete_FailedUploadDoesNotBlock(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/data", nil)))
	require.NoError(t, err)
	plane.FailTasks = true

	res, err := client.Delete(context.Background(), s, DeleteOptions{SyncContext: true, Wait: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, status.Failed, res.Wait.Outcome)
	assert.Equal(t, 1, plane.Calls("DeleteSession"))
}

func TestDelete_SyncErrorStillDeletes(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), CreateParams{})
	require.NoError(t, err)
	plane.FailOn("SyncContext", errors.New("backend unavailable"))

	res, err := client.Delete(context.Background(), s, DeleteOptions{SyncContext: true, Wait: true})
	require.NoError(t, err)
	assert.Nil(t, res.Sync)
	assert.Nil(t, res.Wait)
	assert.Equal(t, 1, plane.Calls("DeleteSession"))
}

func TestDelete_WithoutSync(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), CreateParams{})
	require.NoError(t, err)

	_, err = client.Delete(context.Background(), s, DeleteOptions{})
	require.NoError(t, err)
	assert.Zero(t, plane.Calls("SyncContext"))

	_, err = client.Delete(context.Background(), s, DeleteOptions{})
	assert.ErrorIs(t, err, ErrDeleteFailed)
}

func TestDelete_NilSession(t *testing.T) {
	client, _ := newClient(t)
	_, err := client.Delete(context.Background(), nil, DeleteOptions{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFileTransferIsMemoized(t *testing.T) {
	client, _ := newClient(t)
	s, err := client.Create(context.Background(), CreateParams{})
	require.NoError(t, err)

	assert.Same(t, s.FileTransfer(), s.FileTransfer())
}

func TestSyncAndWait(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/data", nil)))
	require.NoError(t, err)
	require.NoError(t, plane.WriteFile(s.ID, "/data/a.txt", []byte("a")))

	res, wait, err := s.Context().SyncAndWait(context.Background(),
		SyncOptions{ContextID: "ctx-1", Mode: status.TaskUpload}, status.WaitOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, status.Completed, wait.Outcome)
}

func TestSyncAndWait_EarlierFailureDoesNotStick(t *testing.T) {
	client, plane := newClient(t)
	s, err := client.Create(context.Background(), withSyncs(binding(t, "ctx-1", "/data", nil)))
	require.NoError(t, err)
	opts := SyncOptions{ContextID: "ctx-1", Mode: status.TaskUpload}

	plane.FailTasks = true
	_, wait, err := s.Context().SyncAndWait(context.Background(), opts, status.WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, status.Failed, wait.Outcome)

	plane.FailTasks = false
	_, wait, err = s.Context().SyncAndWait(context.Background(), opts, status.WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, status.Completed, wait.Outcome)

	info, err := s.Context().Info(context.Background(), status.Filter{TaskType: status.TaskUpload})
	require.NoError(t, err)
	require.Len(t, info.Entries, 2)
	assert.True(t, info.Entries[0].Failed(), "finished tasks keep their status")
	assert.True(t, info.Entries[1].Succeeded())
}
