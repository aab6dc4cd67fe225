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

type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
)

// ChangeEvent is one entry of a directory diff.
type ChangeEvent struct {
	EventType EventType `json:"eventType"`
	Path      string    `json:"path"`
	PathType  string    `json:"pathType"`
}

type eventKey struct {
	eventType EventType
	path      string
	pathType  string
}

func (e ChangeEvent) key() eventKey {
	return eventKey{eventType: e.EventType, path: e.Path, pathType: e.PathType}
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s (%s)", e.EventType, e.Path, e.PathType)
}

// ParseChangeEvents decodes a raw directory diff. Events repeating an
// (event type, path, path type) triple already seen in the same payload are
// dropped; first occurrences keep their order. Blank and empty payloads
// return nil.
func ParseChangeEvents(raw string) ([]ChangeEvent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "[]" {
		return nil, nil
	}

	var events []ChangeEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("failed to parse file change payload: %w", err)
	}
	return DedupeEvents(events), nil
}

// DedupeEvents removes repeated triples using an explicit seen-set.
func DedupeEvents(events []ChangeEvent) []ChangeEvent {
	if len(events) == 0 {
		return nil
	}
	seen := make(map[eventKey]struct{}, len(events))
	out := make([]ChangeEvent, 0, len(events))
	for _, e := range events {
		k := e.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
