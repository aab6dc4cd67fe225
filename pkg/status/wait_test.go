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

package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns one payload per call, repeating the last one.
func scripted(steps ...[]ContextStatusData) (FetchFunc, *int) {
	calls := 0
	return func(context.Context) ([]ContextStatusData, error) {
		i := calls
		calls++
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i], nil
	}, &calls
}

func entry(ctxID string, tt TaskType, st string) ContextStatusData {
	return ContextStatusData{ContextID: ctxID, Path: "/data", TaskType: tt, Status: st}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		entries []ContextStatusData
		want    Outcome
	}{
		{"empty", nil, Pending},
		{"running", []ContextStatusData{entry("a", TaskUpload, "InProgress")}, Pending},
		{"mixed running", []ContextStatusData{entry("a", TaskUpload, "Success"), entry("b", TaskUpload, "Pending")}, Pending},
		{"all success", []ContextStatusData{entry("a", TaskUpload, "Success"), entry("b", TaskUpload, "done")}, Completed},
		{"one failed", []ContextStatusData{entry("a", TaskUpload, "Success"), entry("b", TaskUpload, "Failed")}, Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.entries))
		})
	}
}

func TestWait_CompletesAfterPolls(t *testing.T) {
	fetch, calls := scripted(
		nil,
		[]ContextStatusData{entry("a", TaskUpload, "InProgress")},
		[]ContextStatusData{entry("a", TaskUpload, "Success"), entry("b", TaskDownload, "InProgress")},
	)

	res := Wait(context.Background(), fetch, Filter{ContextID: "a", TaskType: TaskUpload},
		WaitOptions{Timeout: time.Second, PollInterval: time.Millisecond})

	assert.Equal(t, Completed, res.Outcome)
	assert.True(t, res.Done())
	assert.Equal(t, 3, *calls)
	require.Len(t, res.Entries, 1)
	assert.NoError(t, res.Err)
}

func TestWait_FailedIsSeparateFromPending(t *testing.T) {
	fetch, _ := scripted([]ContextStatusData{entry("a", TaskUpload, "Failed")})

	res := Wait(context.Background(), fetch, Filter{}, WaitOptions{Timeout: time.Second, PollInterval: time.Millisecond})

	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, res.Settled())
	assert.False(t, res.Done())
}

func TestWait_TimeoutIsSoft(t *testing.T) {
	fetch, calls := scripted([]ContextStatusData{entry("a", TaskUpload, "InProgress")})

	res := Wait(context.Background(), fetch, Filter{}, WaitOptions{Timeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	assert.Equal(t, Pending, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Len(t, res.Entries, 1)
	assert.GreaterOrEqual(t, *calls, 2)
}

func TestWait_ZeroTimeoutPollsOnce(t *testing.T) {
	fetch, calls := scripted([]ContextStatusData{entry("a", TaskUpload, "InProgress")})

	res := Wait(context.Background(), fetch, Filter{}, WaitOptions{})

	assert.Equal(t, Pending, res.Outcome)
	assert.Equal(t, 1, *calls)
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(context.Context) ([]ContextStatusData, error) {
		cancel()
		return nil, nil
	}

	res := Wait(ctx, fetch, Filter{}, WaitOptions{Timeout: time.Minute, PollInterval: time.Minute})

	assert.Equal(t, Pending, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestWait_FetchErrorsAreRetried(t *testing.T) {
	calls := 0
	fetch := func(context.Context) ([]ContextStatusData, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("throttled")
		}
		return []ContextStatusData{entry("a", TaskDownload, "completed")}, nil
	}

	res := Wait(context.Background(), fetch, Filter{}, WaitOptions{Timeout: time.Second, PollInterval: time.Millisecond})

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 3, calls)
	assert.NoError(t, res.Err)
}

func TestWait_OnlyErrors(t *testing.T) {
	fetch := func(context.Context) ([]ContextStatusData, error) {
		return nil, errors.New("unreachable")
	}

	res := Wait(context.Background(), fetch, Filter{}, WaitOptions{Timeout: 10 * time.Millisecond, PollInterval: 2 * time.Millisecond})

	assert.Equal(t, Pending, res.Outcome)
	assert.EqualError(t, res.Err, "unreachable")
}

func TestLatest(t *testing.T) {
	run := func(ctxID string, tt TaskType, st string, start int64) ContextStatusData {
		e := entry(ctxID, tt, st)
		e.StartTime = start
		return e
	}

	tests := []struct {
		name    string
		entries []ContextStatusData
		want    []ContextStatusData
	}{
		{"empty", nil, nil},
		{
			"later start wins",
			[]ContextStatusData{run("a", TaskUpload, "Success", 20), run("a", TaskUpload, "Failed", 10)},
			[]ContextStatusData{run("a", TaskUpload, "Success", 20)},
		},
		{
			"equal start keeps the later entry",
			[]ContextStatusData{run("a", TaskUpload, "Failed", 10), run("a", TaskUpload, "Success", 10)},
			[]ContextStatusData{run("a", TaskUpload, "Success", 10)},
		},
		{
			"distinct keys are kept in order",
			[]ContextStatusData{
				run("a", TaskUpload, "Failed", 10),
				run("a", TaskDownload, "Success", 10),
				run("b", TaskUpload, "Success", 10),
				run("a", TaskUpload, "Success", 30),
			},
			[]ContextStatusData{
				run("a", TaskUpload, "Success", 30),
				run("a", TaskDownload, "Success", 10),
				run("b", TaskUpload, "Success", 10),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Latest(tt.entries))
		})
	}
}

func TestWait_EarlierRunDoesNotDecide(t *testing.T) {
	fetch, _ := scripted(
		[]ContextStatusData{entry("a", TaskUpload, "Failed"), entry("a", TaskUpload, "InProgress")},
		[]ContextStatusData{entry("a", TaskUpload, "Failed"), entry("a", TaskUpload, "Success")},
	)

	res := Wait(context.Background(), fetch, Filter{ContextID: "a", TaskType: TaskUpload},
		WaitOptions{Timeout: time.Second, PollInterval: time.Millisecond})

	assert.Equal(t, Completed, res.Outcome)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "Success", res.Entries[0].Status)
}
