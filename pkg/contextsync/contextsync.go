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
	"encoding/json"
	"strings"

	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
)

// ContextSync binds a durable context to a session-local path. Values are
// immutable: the policy is copied on the way in and on the way out.
type ContextSync struct {
	contextID string
	path      string
	policy    *policy.SyncPolicy
}

// New validates its inputs and copies the policy. A nil policy selects
// policy.DefaultSyncPolicy.
func New(contextID, path string, p *policy.SyncPolicy) (ContextSync, error) {
	if strings.TrimSpace(contextID) == "" {
		return ContextSync{}, &validation.Error{Field: "context_id", Reason: "context ID cannot be empty"}
	}
	if err := validation.ValidateContextPath(path); err != nil {
		return ContextSync{}, err
	}
	if p == nil {
		p = policy.DefaultSyncPolicy()
	}
	if err := p.Validate(); err != nil {
		return ContextSync{}, err
	}
	return ContextSync{contextID: contextID, path: path, policy: p.Clone()}, nil
}

// MustNew is New for static configuration known to be valid.
func MustNew(contextID, path string, p *policy.SyncPolicy) ContextSync {
	cs, err := New(contextID, path, p)
	if err != nil {
		panic(err)
	}
	return cs
}

func (c ContextSync) ContextID() string { return c.contextID }

func (c ContextSync) Path() string { return c.path }

// Policy returns a copy of the bound policy.
func (c ContextSync) Policy() *policy.SyncPolicy {
	if c.policy == nil {
		return policy.DefaultSyncPolicy()
	}
	return c.policy.Clone()
}

// CanonicalPath is the path under which the context stores this binding's
// data: the mapping policy path when one is set, otherwise Path.
func (c ContextSync) CanonicalPath() string {
	if c.policy != nil && c.policy.MappingPolicy != nil && c.policy.MappingPolicy.Path != "" {
		return c.policy.MappingPolicy.Path
	}
	return c.path
}

func (c ContextSync) Equal(other ContextSync) bool {
	return c.contextID == other.contextID && c.path == other.path && c.Policy().Equal(other.Policy())
}

type wire struct {
	ContextID string             `json:"contextId"`
	Path      string             `json:"path"`
	Policy    *policy.SyncPolicy `json:"policy"`
}

func (c ContextSync) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{ContextID: c.contextID, Path: c.path, Policy: c.Policy()})
}

func (c *ContextSync) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	parsed, err := New(w.ContextID, w.Path, w.Policy)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
