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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []ContextStatusData {
	return []ContextStatusData{
		{ContextID: "ctx-a", Path: "/data", Status: "Success", TaskType: TaskUpload},
		{ContextID: "ctx-a", Path: "/data", Status: "InProgress", TaskType: TaskDownload},
		{ContextID: "ctx-a", Path: "/logs", Status: "Failed", TaskType: TaskUpload, ErrorMessage: "denied"},
		{ContextID: "ctx-b", Path: "/data", Status: "Success", TaskType: TaskUpload},
		{ContextID: "ctx-b", Path: "/cache", Status: "Pending", TaskType: TaskDownload},
	}
}

func TestFilter_Apply(t *testing.T) {
	entries := sampleEntries()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filters", Filter{}, 5},
		{"context a", Filter{ContextID: "ctx-a"}, 3},
		{"context b", Filter{ContextID: "ctx-b"}, 2},
		{"context a uploads", Filter{ContextID: "ctx-a", TaskType: TaskUpload}, 2},
		{"context a path and task", Filter{ContextID: "ctx-a", Path: "/data", TaskType: TaskDownload}, 1},
		{"path only", Filter{Path: "/data"}, 3},
		{"no match", Filter{ContextID: "ctx-z"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(entries)
			assert.Len(t, got, tt.want)
			for _, e := range got {
				assert.True(t, tt.filter.Matches(e))
			}
		})
	}
}

func TestTerminalVocabulary(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
		success  bool
	}{
		{"Success", true, true},
		{"SUCCESS", true, true},
		{"completed", true, true},
		{" done ", true, true},
		{"Failed", true, false},
		{"Error", true, false},
		{"Cancelled", true, false},
		{"TimedOut", true, false},
		{"InProgress", false, false},
		{"Pending", false, false},
		{"", false, false},
		{"syncing", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.terminal, IsTerminal(tt.status))
			assert.Equal(t, tt.success, IsSuccess(tt.status))
			d := ContextStatusData{Status: tt.status}
			assert.Equal(t, tt.terminal, d.IsTerminal())
			assert.Equal(t, tt.terminal && !tt.success, d.Failed())
		})
	}
}

func TestParseContextStatus_Envelope(t *testing.T) {
	raw, err := EncodeContextStatus(sampleEntries())
	require.NoError(t, err)

	got, err := ParseContextStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, sampleEntries(), got)
}

func TestParseContextStatus_Shapes(t *testing.T) {
	bare := `[{"contextId":"ctx-a","path":"/data","status":"Success","taskType":"upload","startTime":10,"finishTime":20}]`
	got, err := ParseContextStatus(bare)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(20), got[0].FinishTime)
	assert.Equal(t, TaskUpload, got[0].TaskType)

	mixed := `[{"type":"meta","data":"ignored"},{"type":"data","data":"[{\"contextId\":\"c\",\"path\":\"/p\",\"status\":\"Pending\",\"taskType\":\"download\"}]"}]`
	got, err = ParseContextStatus(mixed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ContextID)

	for _, empty := range []string{"", "  ", "null", "[]", `[{"type":"data","data":""}]`} {
		got, err = ParseContextStatus(empty)
		require.NoError(t, err, empty)
		assert.Empty(t, got, empty)
	}

	_, err = ParseContextStatus("{not json")
	assert.Error(t, err)
	_, err = ParseContextStatus(`[{"type":"data","data":"not json"}]`)
	assert.Error(t, err)
}

func TestParseChangeEvents_Dedup(t *testing.T) {
	raw := `[
		{"eventType":"create","path":"/w/a.txt","pathType":"file"},
		{"eventType":"modify","path":"/w/a.txt","pathType":"file"},
		{"eventType":"create","path":"/w/a.txt","pathType":"file"},
		{"eventType":"create","path":"/w/a.txt","pathType":"directory"},
		{"eventType":"delete","path":"/w/b","pathType":"directory"}
	]`

	got, err := ParseChangeEvents(raw)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, ChangeEvent{EventType: EventCreate, Path: "/w/a.txt", PathType: "file"}, got[0])
	assert.Equal(t, EventModify, got[1].EventType)
	assert.Equal(t, "directory", got[2].PathType)
	assert.Equal(t, EventDelete, got[3].EventType)
}

func TestParseChangeEvents_SameTripleTwice(t *testing.T) {
	raw := `[{"eventType":"modify","path":"/w/x","pathType":"file"},{"eventType":"modify","path":"/w/x","pathType":"file"}]`
	got, err := ParseChangeEvents(raw)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParseChangeEvents_Empty(t *testing.T) {
	for _, raw := range []string{"", " ", "[]", "null"} {
		got, err := ParseChangeEvents(raw)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	_, err := ParseChangeEvents("oops")
	assert.Error(t, err)
}
