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
	"time"

	log "github.com/cowdogmoo/ctxsync/pkg/logging"
)

// Outcome is the result of a bounded wait on reconciliation tasks.
type Outcome int

const (
	// Pending means the budget ran out (or the wait was cancelled) while at
	// least one matching task was still running or not yet visible.
	Pending Outcome = iota
	// Completed means every matching task finished successfully.
	Completed
	// Failed means every matching task is terminal and at least one failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitResult never signals a timeout through Err. Err is set when the
// context was cancelled, or when the wait ended on a failed poll without
// ever seeing a matching entry.
type WaitResult struct {
	Outcome Outcome
	Entries []ContextStatusData
	Polls   int
	Err     error
}

// Done reports whether the tasks finished successfully.
func (r WaitResult) Done() bool { return r.Outcome == Completed }

// Settled reports whether the tasks stopped changing, successfully or not.
func (r WaitResult) Settled() bool { return r.Outcome != Pending }

// FetchFunc returns the current reconciliation entries.
type FetchFunc func(ctx context.Context) ([]ContextStatusData, error)

// Summarize classifies entries already narrowed by a filter. An empty set is
// Pending: the task has not been reported yet.
func Summarize(entries []ContextStatusData) Outcome {
	if len(entries) == 0 {
		return Pending
	}
	failed := false
	for _, e := range entries {
		if !e.IsTerminal() {
			return Pending
		}
		if e.Failed() {
			failed = true
		}
	}
	if failed {
		return Failed
	}
	return Completed
}

// Wait polls fetch until every entry matching filter is terminal or the
// timeout elapses. Only the latest task per context, path and task type is
// judged, so an earlier run of the same task does not decide the outcome.
// Fetch errors are logged and retried on the next poll.
func Wait(ctx context.Context, fetch FetchFunc, filter Filter, opts WaitOptions) WaitResult {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	deadline := time.Now().Add(opts.Timeout)

	var res WaitResult
	var lastErr error
	for {
		res.Polls++
		entries, err := fetch(ctx)
		if err != nil {
			lastErr = err
			log.Warn("Failed to query context status (poll %d): %v", res.Polls, err)
		} else {
			lastErr = nil
			res.Entries = Latest(filter.Apply(entries))
			res.Outcome = Summarize(res.Entries)
			if res.Outcome != Pending {
				return res
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := opts.PollInterval
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Outcome = Pending
			res.Err = ctx.Err()
			return res
		case <-timer.C:
		}
	}

	res.Outcome = Pending
	if len(res.Entries) == 0 && lastErr != nil {
		res.Err = lastErr
	}
	log.Debug("Context status still pending after %d polls", res.Polls)
	return res
}
