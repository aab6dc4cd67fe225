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

// Package policy holds the declarative synchronization policies attached to
// a context binding. Every value here is plain data: constructors and JSON
// decoding validate synchronously and nothing in this package performs I/O.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cowdogmoo/ctxsync/pkg/validation"
)

// UploadMode selects how a synced subtree is stored in the context.
type UploadMode string

const (
	// UploadModeFile keeps one object per file.
	UploadModeFile UploadMode = "File"

	// UploadModeArchive bundles the subtree into a single archive object.
	UploadModeArchive UploadMode = "Archive"
)

// Valid reports whether m is File or Archive.
func (m UploadMode) Valid() bool {
	switch m {
	case UploadModeFile, UploadModeArchive:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects unknown upload modes.
func (m *UploadMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !UploadMode(s).Valid() {
		return validation.Errorf("uploadMode", s, "must be one of: %s, %s", UploadModeFile, UploadModeArchive)
	}
	*m = UploadMode(s)
	return nil
}

// UploadStrategy controls when automatic uploads happen.
type UploadStrategy string

const UploadBeforeResourceRelease UploadStrategy = "UploadBeforeResourceRelease"

// DownloadStrategy controls how automatic downloads are scheduled.
type DownloadStrategy string

const DownloadAsync DownloadStrategy = "DownloadAsync"

// UploadPolicy controls automatic uploads. Period is in minutes.
type UploadPolicy struct {
	AutoUpload     bool           `json:"autoUpload"`
	UploadStrategy UploadStrategy `json:"uploadStrategy"`
	Period         int            `json:"period"`
	UploadMode     UploadMode     `json:"uploadMode"`
}

// DefaultUploadPolicy uploads every 30 minutes and before the session is
// released, one object per file.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		AutoUpload:     true,
		UploadStrategy: UploadBeforeResourceRelease,
		Period:         30,
		UploadMode:     UploadModeFile,
	}
}

func (p UploadPolicy) validate() error {
	if p.UploadStrategy != UploadBeforeResourceRelease {
		return validation.Errorf("uploadStrategy", string(p.UploadStrategy), "must be %s", UploadBeforeResourceRelease)
	}
	if p.Period < 0 {
		return validation.Errorf("period", fmt.Sprint(p.Period), "must not be negative")
	}
	if !p.UploadMode.Valid() {
		return validation.Errorf("uploadMode", string(p.UploadMode), "must be one of: %s, %s", UploadModeFile, UploadModeArchive)
	}
	return nil
}

// DownloadPolicy controls automatic downloads at session start.
type DownloadPolicy struct {
	AutoDownload     bool             `json:"autoDownload"`
	DownloadStrategy DownloadStrategy `json:"downloadStrategy"`
}

// DefaultDownloadPolicy downloads asynchronously when the session starts.
func DefaultDownloadPolicy() DownloadPolicy {
	return DownloadPolicy{AutoDownload: true, DownloadStrategy: DownloadAsync}
}

func (p DownloadPolicy) validate() error {
	if p.DownloadStrategy != DownloadAsync {
		return validation.Errorf("downloadStrategy", string(p.DownloadStrategy), "must be %s", DownloadAsync)
	}
	return nil
}

// DeletePolicy decides whether local deletions propagate to the context.
type DeletePolicy struct {
	SyncLocalFile bool `json:"syncLocalFile"`
}

// DefaultDeletePolicy propagates local deletions.
func DefaultDeletePolicy() DeletePolicy {
	return DeletePolicy{SyncLocalFile: true}
}

// ExtractPolicy decides whether archive objects are expanded on download.
type ExtractPolicy struct {
	Extract                bool `json:"extract"`
	DeleteSrcFile          bool `json:"deleteSrcFile"`
	ExtractToCurrentFolder bool `json:"extractToCurrentFolder"`
}

// DefaultExtractPolicy expands archives and removes them afterwards.
func DefaultExtractPolicy() ExtractPolicy {
	return ExtractPolicy{Extract: true, DeleteSrcFile: true}
}

// WhiteList includes Path (relative to the binding path, "" for all of it)
// minus ExcludePaths.
type WhiteList struct {
	Path         string   `json:"path"`
	ExcludePaths []string `json:"excludePaths"`
}

func (w WhiteList) validate() error {
	if err := checkNoWildcard("white list path", w.Path); err != nil {
		return err
	}
	for _, p := range w.ExcludePaths {
		if err := checkNoWildcard("exclude path", p); err != nil {
			return err
		}
	}
	return nil
}

// BWList is the set of whitelists narrowing what a binding syncs.
type BWList struct {
	WhiteLists []WhiteList `json:"whiteLists"`
}

// DefaultBWList includes the whole binding.
func DefaultBWList() BWList {
	return BWList{WhiteLists: []WhiteList{{Path: "", ExcludePaths: []string{}}}}
}

// MappingPolicy redirects a context's canonical path: data uploaded from
// Path in one session appears at the binding path of the consuming session.
type MappingPolicy struct {
	Path string `json:"path"`
}

// SyncPolicy aggregates every sub-policy of a context binding.
type SyncPolicy struct {
	UploadPolicy   UploadPolicy   `json:"uploadPolicy"`
	DownloadPolicy DownloadPolicy `json:"downloadPolicy"`
	DeletePolicy   DeletePolicy   `json:"deletePolicy"`
	ExtractPolicy  ExtractPolicy  `json:"extractPolicy"`
	RecyclePolicy  RecyclePolicy  `json:"recyclePolicy"`
	BWList         BWList         `json:"bwList"`
	MappingPolicy  *MappingPolicy `json:"mappingPolicy,omitempty"`
}

// DefaultSyncPolicy returns a fully populated, valid policy.
func DefaultSyncPolicy() *SyncPolicy {
	return &SyncPolicy{
		UploadPolicy:   DefaultUploadPolicy(),
		DownloadPolicy: DefaultDownloadPolicy(),
		DeletePolicy:   DefaultDeletePolicy(),
		ExtractPolicy:  DefaultExtractPolicy(),
		RecyclePolicy:  DefaultRecyclePolicy(),
		BWList:         DefaultBWList(),
	}
}

// Validate reports the first malformed field.
func (p *SyncPolicy) Validate() error {
	if p == nil {
		return &validation.Error{Field: "policy", Reason: "policy cannot be nil"}
	}
	if err := p.UploadPolicy.validate(); err != nil {
		return err
	}
	if err := p.DownloadPolicy.validate(); err != nil {
		return err
	}
	if _, err := NewRecyclePolicy(p.RecyclePolicy.Lifecycle(), p.RecyclePolicy.Paths()); err != nil {
		return err
	}
	for _, w := range p.BWList.WhiteLists {
		if err := w.validate(); err != nil {
			return err
		}
	}
	if p.MappingPolicy != nil {
		if err := checkNoWildcard("mapping path", p.MappingPolicy.Path); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *SyncPolicy) Clone() *SyncPolicy {
	if p == nil {
		return nil
	}
	c := *p
	c.RecyclePolicy = RecyclePolicy{lifecycle: p.RecyclePolicy.lifecycle}
	if p.RecyclePolicy.paths != nil {
		c.RecyclePolicy.paths = append([]string(nil), p.RecyclePolicy.paths...)
	}
	if p.BWList.WhiteLists != nil {
		c.BWList.WhiteLists = make([]WhiteList, len(p.BWList.WhiteLists))
		for i, w := range p.BWList.WhiteLists {
			c.BWList.WhiteLists[i] = WhiteList{Path: w.Path, ExcludePaths: append([]string{}, w.ExcludePaths...)}
		}
	}
	if p.MappingPolicy != nil {
		m := *p.MappingPolicy
		c.MappingPolicy = &m
	}
	return &c
}

// MarshalJSON emits the canonical wire form. Nil slices are written as
// empty arrays so that equal policies always serialize identically.
func (p SyncPolicy) MarshalJSON() ([]byte, error) {
	type plain SyncPolicy
	out := plain(*p.Clone())
	if out.BWList.WhiteLists == nil {
		out.BWList.WhiteLists = []WhiteList{}
	}
	for i := range out.BWList.WhiteLists {
		if out.BWList.WhiteLists[i].ExcludePaths == nil {
			out.BWList.WhiteLists[i].ExcludePaths = []string{}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes on top of DefaultSyncPolicy, so omitted sections
// keep their defaults, then validates the result.
func (p *SyncPolicy) UnmarshalJSON(b []byte) error {
	type plain SyncPolicy
	decoded := plain(*DefaultSyncPolicy())
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	result := SyncPolicy(decoded)
	for i := range result.BWList.WhiteLists {
		if result.BWList.WhiteLists[i].ExcludePaths == nil {
			result.BWList.WhiteLists[i].ExcludePaths = []string{}
		}
	}
	if err := result.Validate(); err != nil {
		return err
	}
	*p = result
	return nil
}

// Equal compares the canonical serialized forms.
func (p *SyncPolicy) Equal(other *SyncPolicy) bool {
	if p == nil || other == nil {
		return p == other
	}
	a, errA := json.Marshal(p)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}
