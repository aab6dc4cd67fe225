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

package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func apiErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"AWS RequestTimeout", apiErr("RequestTimeout"), true},
		{"AWS ServiceUnavailable", apiErr("ServiceUnavailable"), true},
		{"AWS ThrottlingException", apiErr("ThrottlingException"), true},
		{"AWS RequestLimitExceeded", apiErr("RequestLimitExceeded"), true},
		{"AWS TooManyRequestsException", apiErr("TooManyRequestsException"), true},
		{"AWS InternalError", apiErr("InternalError"), true},
		{"AWS Throttling", apiErr("Throttling"), true},
		{"SSM invocation not yet registered", apiErr("InvocationDoesNotExist"), true},
		{"AWS non-retryable error", apiErr("ValidationException"), false},
		{"AccessDenied", apiErr("AccessDenied"), false},
		{"ExpiredToken", apiErr("ExpiredToken"), false},
		{"SignatureDoesNotMatch", apiErr("SignatureDoesNotMatch"), false},
		{"wrapped API error", fmt.Errorf("put object: %w", apiErr("Throttling")), true},
		{"HTTP 500", &StatusError{Method: http.MethodPut, StatusCode: 500}, true},
		{"HTTP 503", &StatusError{Method: http.MethodGet, StatusCode: 503}, true},
		{"HTTP 429", &StatusError{Method: http.MethodGet, StatusCode: 429}, true},
		{"HTTP 403", &StatusError{Method: http.MethodPut, StatusCode: 403, Body: "expired"}, false},
		{"HTTP 404", &StatusError{Method: http.MethodGet, StatusCode: 404}, false},
		{"context cancelled", context.Canceled, false},
		{"connection reset error", errors.New("connection reset by peer"), true},
		{"connection refused error", errors.New("connection refused"), true},
		{"timeout error", errors.New("operation timeout"), true},
		{"temporary failure error", errors.New("temporary failure in name resolution"), true},
		{"TLS handshake timeout", errors.New("TLS handshake timeout"), true},
		{"EOF error", errors.New("unexpected EOF"), true},
		{"permission denied string", errors.New("permission denied"), false},
		{"non-retryable error", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		failWith      error
		maxRetries    int
		expectError   bool
		expectedTries int
	}{
		{"success on first try", 0, nil, 3, false, 1},
		{"success after retries", 2, apiErr("RequestTimeout"), 3, false, 3},
		{"fail with non-retryable error", 10, errors.New("invalid input"), 3, true, 1},
		{"fail after max retries", 10, apiErr("RequestTimeout"), 2, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tries := 0
			op := func() error {
				tries++
				if tries <= tt.failures {
					return tt.failWith
				}
				return nil
			}

			err := Do(context.Background(), op, tt.maxRetries, time.Millisecond)
			if (err != nil) != tt.expectError {
				t.Errorf("Do() error = %v, expectError %v", err, tt.expectError)
			}
			if tries != tt.expectedTries {
				t.Errorf("Do() tries = %d, want %d", tries, tt.expectedTries)
			}
		})
	}
}

func TestDoKeepsLastError(t *testing.T) {
	want := &StatusError{Method: http.MethodPut, StatusCode: 502}
	err := Do(context.Background(), func() error { return want }, 1, time.Millisecond)

	var got *StatusError
	if !errors.As(err, &got) || got.StatusCode != 502 {
		t.Errorf("Do() error = %v, want wrapped StatusError 502", err)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tries := 0
	op := func() error {
		tries++
		cancel()
		return apiErr("Throttling")
	}

	err := Do(ctx, op, 5, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if tries != 1 {
		t.Errorf("Do() tries = %d, want 1", tries)
	}
}
