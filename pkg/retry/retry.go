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

// Package retry runs operations with exponential backoff and decides which
// failures are worth another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
)

// StatusError reports an HTTP response outside the 2xx range.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s failed: %d %s", e.Method, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += "; body: " + e.Body
	}
	return msg
}

// Do calls operation until it succeeds, returns a non-retryable error, or
// maxRetries retries have been spent. The delay doubles after every attempt
// starting at baseDelay.
func Do(ctx context.Context, operation func() error, maxRetries int, baseDelay time.Duration) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			log.Warn("Retry attempt %d/%d after %v...", attempt, maxRetries, delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info("Operation succeeded after %d retries", attempt)
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			log.Debug("Non-retryable error encountered: %v", err)
			return err
		}

		log.Warn("Operation failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)
	}

	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode >= 500
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		// Check for non-retryable permission/authentication errors first
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "UnauthorizedAccess",
			"Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"UnrecognizedClientException", "InvalidClientTokenId",
			"ExpiredToken", "ExpiredTokenException", "InvalidToken":
			return false
		}

		switch apiErr.ErrorCode() {
		case "RequestTimeout", "ServiceUnavailable", "ThrottlingException",
			"RequestLimitExceeded", "TooManyRequestsException", "InternalError",
			"RequestThrottled", "Throttling", "InvocationDoesNotExist":
			return true
		}
	}

	errStr := strings.ToLower(err.Error())

	nonRetryableStrings := []string{
		"access denied",
		"unauthorized",
		"forbidden",
		"invalid credentials",
		"permission denied",
		"not authorized",
	}

	for _, nonRetryable := range nonRetryableStrings {
		if strings.Contains(errStr, nonRetryable) {
			return false
		}
	}

	retryableStrings := []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporary failure",
		"tls handshake timeout",
		"eof",
		"i/o timeout",
	}

	for _, retryable := range retryableStrings {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
