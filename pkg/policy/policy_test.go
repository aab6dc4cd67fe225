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

package policy

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecyclePolicy_RejectsWildcards(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		bad   string
	}{
		{"star", []string{"/data/*"}, "/data/*"},
		{"question mark", []string{"/data/file?.txt"}, "/data/file?.txt"},
		{"second path", []string{"/ok", "/logs/*.log"}, "/logs/*.log"},
		{"bare star", []string{"*"}, "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecyclePolicy(Lifecycle1Day, tt.paths)
			require.Error(t, err)
			assert.True(t, errors.Is(err, validation.ErrInvalid))
			assert.Contains(t, err.Error(), tt.bad)
			assert.Contains(t, err.Error(), "exact directory paths")
		})
	}
}

func TestNewRecyclePolicy_AcceptsExactPaths(t *testing.T) {
	rp, err := NewRecyclePolicy(Lifecycle30Days, []string{"/data/cache", ""})
	require.NoError(t, err)
	assert.Equal(t, Lifecycle30Days, rp.Lifecycle())
	assert.Equal(t, []string{"/data/cache", ""}, rp.Paths())

	rp.Paths()[0] = "mutated"
	assert.Equal(t, "/data/cache", rp.Paths()[0], "Paths must return a copy")

	rp, err = NewRecyclePolicy(LifecycleForever, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, rp.Paths())
}

func TestParseLifecycle(t *testing.T) {
	for _, l := range Lifecycles() {
		got, err := ParseLifecycle(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	for _, bad := range []string{"", "1DAY", "Lifecycle_2Days", "lifecycle_forever"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseLifecycle(bad)
			require.Error(t, err)
			assert.True(t, errors.Is(err, validation.ErrInvalid))
			for _, l := range Lifecycles() {
				assert.Contains(t, err.Error(), string(l))
			}
		})
	}

	_, err := NewRecyclePolicy(Lifecycle("7DAYS"), []string{"/x"})
	assert.Error(t, err)
}

func TestLifecycleDays(t *testing.T) {
	assert.Equal(t, 1, Lifecycle1Day.Days())
	assert.Equal(t, 360, Lifecycle360Days.Days())
	assert.Equal(t, 0, LifecycleForever.Days())
	for _, l := range Lifecycles() {
		if l != LifecycleForever {
			assert.Positive(t, l.Days(), string(l))
		}
	}
}

func TestSyncPolicy_RoundTrip(t *testing.T) {
	for _, mode := range []UploadMode{UploadModeFile, UploadModeArchive} {
		t.Run(string(mode), func(t *testing.T) {
			p := DefaultSyncPolicy()
			p.UploadPolicy.UploadMode = mode
			p.UploadPolicy.AutoUpload = false
			p.ExtractPolicy.ExtractToCurrentFolder = true
			p.BWList = BWList{WhiteLists: []WhiteList{{Path: "/data", ExcludePaths: []string{"/data/tmp"}}}}
			p.MappingPolicy = &MappingPolicy{Path: "/home/user/original"}
			rp, err := NewRecyclePolicy(Lifecycle5Days, []string{"/data"})
			require.NoError(t, err)
			p.RecyclePolicy = rp

			raw, err := json.Marshal(p)
			require.NoError(t, err)

			var decoded SyncPolicy
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, *p, decoded)
			assert.True(t, p.Equal(&decoded))
		})
	}
}

func TestSyncPolicy_DefaultRoundTrip(t *testing.T) {
	p := DefaultSyncPolicy()
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded SyncPolicy
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *p, decoded)
}

func TestSyncPolicy_WireNames(t *testing.T) {
	raw, err := json.Marshal(DefaultSyncPolicy())
	require.NoError(t, err)

	var m map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, true, m["uploadPolicy"]["autoUpload"])
	assert.Equal(t, "UploadBeforeResourceRelease", m["uploadPolicy"]["uploadStrategy"])
	assert.Equal(t, "File", m["uploadPolicy"]["uploadMode"])
	assert.Equal(t, float64(30), m["uploadPolicy"]["period"])
	assert.Equal(t, "DownloadAsync", m["downloadPolicy"]["downloadStrategy"])
	assert.Equal(t, true, m["deletePolicy"]["syncLocalFile"])
	assert.Equal(t, true, m["extractPolicy"]["deleteSrcFile"])
	assert.Equal(t, "Lifecycle_Forever", m["recyclePolicy"]["lifecycle"])
	assert.Equal(t, []any{""}, m["recyclePolicy"]["paths"])
	assert.NotContains(t, m, "mappingPolicy")

	whiteLists := m["bwList"]["whiteLists"].([]any)
	require.Len(t, whiteLists, 1)
	assert.Equal(t, map[string]any{"path": "", "excludePaths": []any{}}, whiteLists[0])
}

func TestSyncPolicy_UnmarshalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown upload mode", `{"uploadPolicy":{"autoUpload":true,"uploadStrategy":"UploadBeforeResourceRelease","uploadMode":"Zip"}}`},
		{"unknown lifecycle", `{"recyclePolicy":{"lifecycle":"Lifecycle_7Days","paths":[""]}}`},
		{"wildcard recycle path", `{"recyclePolicy":{"lifecycle":"Lifecycle_1Day","paths":["/a/*"]}}`},
		{"wildcard white list", `{"bwList":{"whiteLists":[{"path":"/a?","excludePaths":[]}]}}`},
		{"unknown download strategy", `{"downloadPolicy":{"autoDownload":true,"downloadStrategy":"Sync"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p SyncPolicy
			err := json.Unmarshal([]byte(tt.raw), &p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, validation.ErrInvalid), "got %v", err)
		})
	}
}

func TestSyncPolicy_UnmarshalFillsDefaults(t *testing.T) {
	var p SyncPolicy
	require.NoError(t, json.Unmarshal([]byte(`{"uploadPolicy":{"autoUpload":false}}`), &p))

	assert.False(t, p.UploadPolicy.AutoUpload)
	assert.Equal(t, UploadModeFile, p.UploadPolicy.UploadMode)
	assert.True(t, p.DownloadPolicy.AutoDownload)
	assert.Equal(t, LifecycleForever, p.RecyclePolicy.Lifecycle())
	assert.Nil(t, p.MappingPolicy)
}

func TestSyncPolicy_Validate(t *testing.T) {
	p := DefaultSyncPolicy()
	require.NoError(t, p.Validate())

	p.UploadPolicy.UploadMode = "Zip"
	assert.Error(t, p.Validate())

	var nilPolicy *SyncPolicy
	assert.Error(t, nilPolicy.Validate())

	p = DefaultSyncPolicy()
	p.MappingPolicy = &MappingPolicy{Path: "/data/*"}
	assert.Error(t, p.Validate())
}

func TestSyncPolicy_CloneIsDeep(t *testing.T) {
	p := DefaultSyncPolicy()
	p.MappingPolicy = &MappingPolicy{Path: "/a"}
	p.BWList.WhiteLists[0].ExcludePaths = []string{"/a/tmp"}

	c := p.Clone()
	require.True(t, p.Equal(c))

	c.MappingPolicy.Path = "/b"
	c.BWList.WhiteLists[0].ExcludePaths[0] = "/b/tmp"
	c.UploadPolicy.AutoUpload = false

	assert.Equal(t, "/a", p.MappingPolicy.Path)
	assert.Equal(t, "/a/tmp", p.BWList.WhiteLists[0].ExcludePaths[0])
	assert.True(t, p.UploadPolicy.AutoUpload)
	assert.False(t, p.Equal(c))
}
