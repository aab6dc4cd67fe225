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

package contextsync

import (
	"strings"

	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
)

// ExtensionMountPrefix is where extension contexts are materialized inside
// a session.
const ExtensionMountPrefix = "/tmp/extensions/"

// ExtensionOption describes a set of extensions stored in one context. Each
// extension id becomes its own binding under ExtensionMountPrefix.
type ExtensionOption struct {
	ContextID    string
	ExtensionIDs []string
}

// NewExtensionOption validates and copies the id list.
func NewExtensionOption(contextID string, extensionIDs []string) (*ExtensionOption, error) {
	if strings.TrimSpace(contextID) == "" {
		return nil, &validation.Error{Field: "extension context_id", Reason: "context ID cannot be empty"}
	}
	if len(extensionIDs) == 0 {
		return nil, &validation.Error{Field: "extension_ids", Reason: "at least one extension ID is required"}
	}
	for _, id := range extensionIDs {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/*?") {
			return nil, validation.Errorf("extension_id", id, "must be a non-empty name without '/', '*' or '?'")
		}
	}
	return &ExtensionOption{ContextID: contextID, ExtensionIDs: append([]string(nil), extensionIDs...)}, nil
}

// ContextSyncs derives one binding per distinct extension id, in the order
// the ids were given. Extensions are read-only inside the session: upload is
// disabled and archives are expanded on download.
func (o *ExtensionOption) ContextSyncs() ([]ContextSync, error) {
	if o == nil {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(o.ExtensionIDs))
	syncs := make([]ContextSync, 0, len(o.ExtensionIDs))
	for _, id := range o.ExtensionIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p := policy.DefaultSyncPolicy()
		p.UploadPolicy.AutoUpload = false
		p.ExtractPolicy = policy.ExtractPolicy{Extract: true, DeleteSrcFile: true}
		p.BWList = policy.BWList{WhiteLists: []policy.WhiteList{{Path: id, ExcludePaths: []string{}}}}

		cs, err := New(o.ContextID, ExtensionMountPrefix+id, p)
		if err != nil {
			return nil, err
		}
		syncs = append(syncs, cs)
	}
	return syncs, nil
}

// SessionConfig is the composite of explicit bindings and feature
// configurations that contribute bindings of their own.
type SessionConfig struct {
	ContextSyncs []ContextSync
	Extensions   *ExtensionOption
}

// AllContextSyncs returns a fresh slice: the explicit bindings followed by
// the extension-derived ones. Neither ContextSyncs nor Extensions is
// modified, so repeated calls return equal results.
func (c SessionConfig) AllContextSyncs() ([]ContextSync, error) {
	all := make([]ContextSync, 0, len(c.ContextSyncs))
	all = append(all, c.ContextSyncs...)

	derived, err := c.Extensions.ContextSyncs()
	if err != nil {
		return nil, err
	}
	return append(all, derived...), nil
}
