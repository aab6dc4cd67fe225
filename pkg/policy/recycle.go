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
	"strings"

	"github.com/cowdogmoo/ctxsync/pkg/validation"
)

// Lifecycle is the retention tag applied to context sub-paths.
type Lifecycle string

const (
	Lifecycle1Day    Lifecycle = "Lifecycle_1Day"
	Lifecycle3Days   Lifecycle = "Lifecycle_3Days"
	Lifecycle5Days   Lifecycle = "Lifecycle_5Days"
	Lifecycle10Days  Lifecycle = "Lifecycle_10Days"
	Lifecycle15Days  Lifecycle = "Lifecycle_15Days"
	Lifecycle30Days  Lifecycle = "Lifecycle_30Days"
	Lifecycle90Days  Lifecycle = "Lifecycle_90Days"
	Lifecycle180Days Lifecycle = "Lifecycle_180Days"
	Lifecycle360Days Lifecycle = "Lifecycle_360Days"
	LifecycleForever Lifecycle = "Lifecycle_Forever"
)

// Lifecycles lists every accepted lifecycle tag, shortest first.
func Lifecycles() []Lifecycle {
	return []Lifecycle{
		Lifecycle1Day, Lifecycle3Days, Lifecycle5Days, Lifecycle10Days, Lifecycle15Days,
		Lifecycle30Days, Lifecycle90Days, Lifecycle180Days, Lifecycle360Days, LifecycleForever,
	}
}

// Days returns the retention in days. Forever and unknown tags return 0.
func (l Lifecycle) Days() int {
	switch l {
	case Lifecycle1Day:
		return 1
	case Lifecycle3Days:
		return 3
	case Lifecycle5Days:
		return 5
	case Lifecycle10Days:
		return 10
	case Lifecycle15Days:
		return 15
	case Lifecycle30Days:
		return 30
	case Lifecycle90Days:
		return 90
	case Lifecycle180Days:
		return 180
	case Lifecycle360Days:
		return 360
	case LifecycleForever:
		return 0
	default:
		return 0
	}
}

// Valid reports whether l is one of Lifecycles.
func (l Lifecycle) Valid() bool {
	for _, v := range Lifecycles() {
		if l == v {
			return true
		}
	}
	return false
}

// ParseLifecycle accepts only the literal tags returned by Lifecycles.
func ParseLifecycle(s string) (Lifecycle, error) {
	l := Lifecycle(s)
	if !l.Valid() {
		valid := make([]string, 0, len(Lifecycles()))
		for _, v := range Lifecycles() {
			valid = append(valid, string(v))
		}
		return "", validation.Errorf("lifecycle", s, "must be one of: %s", strings.Join(valid, ", "))
	}
	return l, nil
}

// UnmarshalJSON rejects unknown lifecycle tags.
func (l *Lifecycle) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseLifecycle(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// RecyclePolicy attaches a lifecycle to exact directory paths inside a
// context. The empty path stands for the whole context. Values are only
// obtainable through NewRecyclePolicy, DefaultRecyclePolicy or JSON decoding,
// all of which validate.
type RecyclePolicy struct {
	lifecycle Lifecycle
	paths     []string
}

// DefaultRecyclePolicy keeps the whole context forever.
func DefaultRecyclePolicy() RecyclePolicy {
	return RecyclePolicy{lifecycle: LifecycleForever, paths: []string{""}}
}

// NewRecyclePolicy validates the lifecycle tag and rejects any path that
// contains a wildcard. A nil paths slice means the whole context.
func NewRecyclePolicy(lifecycle Lifecycle, paths []string) (RecyclePolicy, error) {
	if _, err := ParseLifecycle(string(lifecycle)); err != nil {
		return RecyclePolicy{}, err
	}
	if paths == nil {
		paths = []string{""}
	}
	for _, p := range paths {
		if err := checkNoWildcard("recycle path", p); err != nil {
			return RecyclePolicy{}, err
		}
	}
	return RecyclePolicy{lifecycle: lifecycle, paths: append([]string(nil), paths...)}, nil
}

// Lifecycle returns the retention tag, Forever when unset.
func (r RecyclePolicy) Lifecycle() Lifecycle {
	if r.lifecycle == "" {
		return LifecycleForever
	}
	return r.lifecycle
}

// Paths returns a copy of the configured paths.
func (r RecyclePolicy) Paths() []string {
	if r.paths == nil {
		return []string{""}
	}
	return append([]string(nil), r.paths...)
}

type recycleWire struct {
	Lifecycle Lifecycle `json:"lifecycle"`
	Paths     []string  `json:"paths"`
}

// MarshalJSON writes {lifecycle, paths}.
func (r RecyclePolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(recycleWire{Lifecycle: r.Lifecycle(), Paths: r.Paths()})
}

// UnmarshalJSON validates through NewRecyclePolicy.
func (r *RecyclePolicy) UnmarshalJSON(b []byte) error {
	w := recycleWire{Lifecycle: LifecycleForever}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	parsed, err := NewRecyclePolicy(w.Lifecycle, w.Paths)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func checkNoWildcard(field, p string) error {
	if strings.ContainsAny(p, "*?") {
		return validation.Errorf(field, p,
			"wildcard patterns are not supported, only exact directory paths are allowed")
	}
	return nil
}
