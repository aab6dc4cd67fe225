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
	"encoding/json"
	"fmt"
	"strings"
)

// TaskType is the direction of one reconciliation task.
type TaskType string

const (
	TaskUpload   TaskType = "upload"
	TaskDownload TaskType = "download"
)

var (
	successStatuses = map[string]struct{}{
		"success": {}, "successful": {}, "ok": {}, "finished": {},
		"done": {}, "completed": {}, "complete": {},
	}
	failureStatuses = map[string]struct{}{
		"failed": {}, "failure": {}, "error": {}, "cancelled": {},
		"canceled": {}, "timedout": {},
	}
)

// IsSuccess reports whether s is a terminal success status.
func IsSuccess(s string) bool {
	_, ok := successStatuses[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// IsFailure reports whether s is a terminal failure status.
func IsFailure(s string) bool {
	_, ok := failureStatuses[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// IsTerminal reports whether s will not change any more. Anything outside
// the success and failure vocabularies counts as in progress.
func IsTerminal(s string) bool {
	return IsSuccess(s) || IsFailure(s)
}

// ContextStatusData is one reconciliation task as reported by the control
// plane. Times are epoch seconds; zero means not yet known.
type ContextStatusData struct {
	ContextID    string   `json:"contextId"`
	Path         string   `json:"path"`
	Status       string   `json:"status"`
	TaskType     TaskType `json:"taskType"`
	StartTime    int64    `json:"startTime"`
	FinishTime   int64    `json:"finishTime"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

func (d ContextStatusData) IsTerminal() bool { return IsTerminal(d.Status) }

func (d ContextStatusData) Succeeded() bool { return IsSuccess(d.Status) }

func (d ContextStatusData) Failed() bool { return IsFailure(d.Status) }

// envelopeItem is the outer shape of the context status payload. Only items
// of type "data" carry entries, encoded as a JSON string.
type envelopeItem struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ParseContextStatus decodes the reconciliation payload. It accepts the
// nested envelope `[{"type":"data","data":"[...]"}]` as well as a bare array
// of entries. A blank payload yields no entries and no error.
func ParseContextStatus(raw string) ([]ContextStatusData, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to parse context status payload: %w", err)
	}

	var entries []ContextStatusData
	for _, item := range items {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("failed to parse context status item: %w", err)
		}

		if _, nested := probe["type"]; nested {
			var env envelopeItem
			if err := json.Unmarshal(item, &env); err != nil {
				return nil, fmt.Errorf("failed to parse context status envelope: %w", err)
			}
			if env.Type != "data" || strings.TrimSpace(env.Data) == "" {
				continue
			}
			var inner []ContextStatusData
			if err := json.Unmarshal([]byte(env.Data), &inner); err != nil {
				return nil, fmt.Errorf("failed to parse context status data: %w", err)
			}
			entries = append(entries, inner...)
			continue
		}

		var entry ContextStatusData
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, fmt.Errorf("failed to parse context status entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// EncodeContextStatus builds the nested envelope understood by
// ParseContextStatus.
func EncodeContextStatus(entries []ContextStatusData) (string, error) {
	if entries == nil {
		entries = []ContextStatusData{}
	}
	inner, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	outer, err := json.Marshal([]envelopeItem{{Type: "data", Data: string(inner)}})
	if err != nil {
		return "", err
	}
	return string(outer), nil
}

// Filter narrows entries by exact match. Empty fields match anything.
type Filter struct {
	ContextID string
	Path      string
	TaskType  TaskType
}

func (f Filter) Matches(d ContextStatusData) bool {
	if f.ContextID != "" && d.ContextID != f.ContextID {
		return false
	}
	if f.Path != "" && d.Path != f.Path {
		return false
	}
	if f.TaskType != "" && d.TaskType != f.TaskType {
		return false
	}
	return true
}

// Apply returns the matching entries in their original order.
func (f Filter) Apply(entries []ContextStatusData) []ContextStatusData {
	var out []ContextStatusData
	for _, e := range entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

type taskKey struct {
	contextID string
	path      string
	taskType  TaskType
}

// Latest keeps the most recently started entry for each context, path and
// task type. Entries with equal start times are ordered by position, the
// later one winning. Survivors keep the position of their key's first entry.
func Latest(entries []ContextStatusData) []ContextStatusData {
	var out []ContextStatusData
	index := make(map[taskKey]int)
	for _, e := range entries {
		k := taskKey{e.ContextID, e.Path, e.TaskType}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, e)
			continue
		}
		if e.StartTime >= out[i].StartTime {
			out[i] = e
		}
	}
	return out
}
