// ABOUTME: Error types returned by the backend client
// ABOUTME: StatusError carries the HTTP status and the backend's error message

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrStatus matches any *StatusError with errors.Is.
var ErrStatus = errors.New("backend returned error status")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message)
}

// Is reports whether target is ErrStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Retryable reports whether the status is one a caller could reasonably retry.
// The gateway itself never retries; the flag only shapes the log level.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable reports whether err wraps a StatusError with a retryable status.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Retryable()
}

// newStatusError extracts the message from an OpenAI-style error body
// ({"error":{"message":"..."}}), falling back to the raw body.
func newStatusError(status int, body []byte) *StatusError {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	const maxLen = 512
	if len(msg) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return &StatusError{StatusCode: status, Message: msg}
}
