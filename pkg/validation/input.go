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

package validation

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalid is matched by every validation failure raised in this module.
var ErrInvalid = errors.New("validation failed")

// Error describes a malformed value rejected before any network call.
type Error struct {
	// Field is the name of the rejected field
	Field string

	// Value is the offending value as supplied by the caller
	Value string

	// Reason explains what is accepted instead
	Reason string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalid
}

// Errorf builds an *Error with a formatted reason.
func Errorf(field, value, format string, args ...any) error {
	return &Error{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

var (
	sessionIDPattern = regexp.MustCompile(`^i-[0-9a-f]{8,17}$`)
	bucketPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9\.\-]*[a-z0-9]$`)
	ipPattern        = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ValidateLocalFile checks that path names an existing regular file.
func ValidateLocalFile(path string) error {
	if path == "" {
		return fmt.Errorf("local path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("local file does not exist: %s", cleanPath)
		}
		return fmt.Errorf("failed to access local file: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("local path is not a regular file: %s", cleanPath)
	}

	return nil
}

// ValidateSessionID checks the session identifier format. Sessions are
// backed by EC2 instances, so the id follows the instance id shape.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format: %s (expected format: i-xxxxxxxxx)", sessionID)
	}
	return nil
}

// ValidateSessionPath splits "session-id:/remote/path" into its parts.
func ValidateSessionPath(sessionPath string) (sessionID string, remotePath string, err error) {
	if sessionPath == "" {
		return "", "", fmt.Errorf("session path cannot be empty")
	}

	parts := strings.SplitN(sessionPath, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid session path format, expected 'session-id:/path', got: %s", sessionPath)
	}

	sessionID = strings.TrimSpace(parts[0])
	remotePath = strings.TrimSpace(parts[1])

	if err := ValidateSessionID(sessionID); err != nil {
		return "", "", err
	}

	if err := ValidateContextPath(remotePath); err != nil {
		return "", "", err
	}

	return sessionID, remotePath, nil
}

// IsSessionPath reports whether arg looks like "session-id:/path".
func IsSessionPath(arg string) bool {
	idx := strings.Index(arg, ":")
	if idx <= 0 {
		return false
	}
	return sessionIDPattern.MatchString(arg[:idx])
}

// ValidateContextPath checks a session-local path bound to a context.
func ValidateContextPath(p string) error {
	if p == "" {
		return &Error{Field: "path", Reason: "path cannot be empty"}
	}
	if !path.IsAbs(p) {
		return &Error{Field: "path", Value: p, Reason: "must be an absolute path"}
	}
	return nil
}

func ValidateBucketName(bucket string) error {
	if bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}

	// S3 bucket naming rules:
	// - Must be between 3 and 63 characters long
	// - Can only contain lowercase letters, numbers, dots, and hyphens
	// - Must start and end with a letter or number
	// - Cannot be formatted as an IP address

	if len(bucket) < 3 || len(bucket) > 63 {
		return fmt.Errorf("bucket name must be between 3 and 63 characters, got: %d", len(bucket))
	}

	if !bucketPattern.MatchString(bucket) {
		return fmt.Errorf("invalid bucket name format: %s (must contain only lowercase letters, numbers, dots, and hyphens)", bucket)
	}

	if ipPattern.MatchString(bucket) {
		return fmt.Errorf("bucket name cannot be formatted as an IP address: %s", bucket)
	}

	if strings.Contains(bucket, "..") {
		return fmt.Errorf("bucket name cannot contain consecutive periods: %s", bucket)
	}

	if strings.Contains(bucket, ".-") || strings.Contains(bucket, "-.") {
		return fmt.Errorf("bucket name cannot have adjacent periods and hyphens: %s", bucket)
	}

	return nil
}
