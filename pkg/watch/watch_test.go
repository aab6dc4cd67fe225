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

package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane/planetest"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context, req *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error)

func (f sourceFunc) GetFileChanges(ctx context.Context, req *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error) {
	return f(ctx, req)
}

type recorder struct {
	mu    sync.Mutex
	calls [][]status.ChangeEvent
}

func (r *recorder) callback(events []status.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, events)
}

func (r *recorder) snapshot() [][]status.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]status.ChangeEvent(nil), r.calls...)
}

func newPlaneSession(t *testing.T) (*planetest.Plane, string) {
	t.Helper()
	plane := planetest.New()
	resp, err := plane.CreateSession(context.Background(), &controlplane.CreateSessionRequest{})
	require.NoError(t, err)
	return plane, resp.SessionID
}

const dupPayload = `[
	{"eventType":"modify","path":"/work/a.txt","pathType":"file"},
	{"eventType":"modify","path":"/work/a.txt","pathType":"file"},
	{"eventType":"create","path":"/work/b","pathType":"directory"}
]`

func TestNew_Validation(t *testing.T) {
	plane, id := newPlaneSession(t)
	rec := &recorder{}

	_, err := New(plane, id, "relative/dir", time.Second, rec.callback)
	assert.Error(t, err)

	_, err = New(plane, id, "/work", time.Second, nil)
	assert.Error(t, err)

	w, err := New(plane, id, "/work", 0, rec.callback)
	require.NoError(t, err)
	assert.Equal(t, time.Second, w.interval)
}

func TestCycle_DedupsWithinOnePoll(t *testing.T) {
	plane, id := newPlaneSession(t)
	plane.QueueChanges(id, dupPayload)
	rec := &recorder{}
	w, err := New(plane, id, "/work", time.Second, rec.callback)
	require.NoError(t, err)

	w.cycle(context.Background())

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, status.ChangeEvent{EventType: status.EventModify, Path: "/work/a.txt", PathType: "file"}, calls[0][0])
}

func TestCycle_EmptyDiffSkipsCallback(t *testing.T) {
	plane, id := newPlaneSession(t)
	plane.QueueChanges(id, "[]", "", "null")
	rec := &recorder{}
	w, err := New(plane, id, "/work", time.Second, rec.callback)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		w.cycle(context.Background())
	}

	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 4, plane.Calls("GetFileChanges"))
}

func TestCycle_ErrorsDoNotReachCallback(t *testing.T) {
	rec := &recorder{}
	src := sourceFunc(func(context.Context, *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error) {
		return nil, errors.New("session not found")
	})
	w, err := New(src, "i-0123456789abcdef0", "/work", time.Second, rec.callback)
	require.NoError(t, err)

	w.cycle(context.Background())
	assert.Empty(t, rec.snapshot())

	bad := sourceFunc(func(context.Context, *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error) {
		return &controlplane.FileChangesResponse{Changes: "not json"}, nil
	})
	w, err = New(bad, "i-0123456789abcdef0", "/work", time.Second, rec.callback)
	require.NoError(t, err)

	w.cycle(context.Background())
	assert.Empty(t, rec.snapshot())
}

func TestCycle_SkippedAfterStop(t *testing.T) {
	plane, id := newPlaneSession(t)
	plane.QueueChanges(id, dupPayload)
	rec := &recorder{}
	w, err := New(plane, id, "/work", time.Second, rec.callback)
	require.NoError(t, err)

	assert.True(t, w.Stop(time.Second))
	w.cycle(context.Background())

	assert.Empty(t, rec.snapshot())
	assert.Zero(t, plane.Calls("GetFileChanges"))
}

func TestStartStop(t *testing.T) {
	plane, id := newPlaneSession(t)
	plane.QueueChanges(id, dupPayload)
	rec := &recorder{}
	w, err := New(plane, id, "/work", time.Second, rec.callback)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, w.Stop(time.Second))

	polls := plane.Calls("GetFileChanges")
	plane.QueueChanges(id, dupPayload)
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, polls, plane.Calls("GetFileChanges"))
	assert.Len(t, rec.snapshot(), 1)
}

func TestStop_JoinTimeout(t *testing.T) {
	var inFlight atomic.Bool
	release := make(chan struct{})
	src := sourceFunc(func(ctx context.Context, _ *controlplane.FileChangesRequest) (*controlplane.FileChangesResponse, error) {
		inFlight.Store(true)
		<-release
		return &controlplane.FileChangesResponse{Changes: "[]"}, nil
	})
	rec := &recorder{}
	w, err := New(src, "i-0123456789abcdef0", "/work", time.Second, rec.callback)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, inFlight.Load, time.Second, time.Millisecond)

	assert.False(t, w.Stop(20*time.Millisecond))
	close(release)
}
