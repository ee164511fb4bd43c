// internal/executor/errors.go
package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

// ErrorCode is the structured failure reason reported in ActionResult.ErrorCode.
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeout           ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigation        ErrorCode = "NAVIGATION_ERROR"
	ErrCodeUnsupportedAction ErrorCode = "UNSUPPORTED_ACTION"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeMaxRetries        ErrorCode = "MAX_RETRIES_EXCEEDED"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
	ErrCodeSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrCodeUnknown           ErrorCode = "UNKNOWN_ERROR"
)

var (
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrUnknownAction     = errors.New("unknown action type")
)

// Classify maps an execution error to its ErrorCode. Sentinels are checked first;
// driver errors that carry no sentinel fall back to message heuristics.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, safety.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, ErrUnsupportedAction), errors.Is(err, ErrUnknownAction):
		return ErrCodeUnsupportedAction
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, browser.ErrInvalidSelector), errors.Is(err, browser.ErrInvalidInput):
		return ErrCodeInvalidParameters
	case errors.Is(err, browser.ErrElementNotFound):
		return ErrCodeElementNotFound
	case errors.Is(err, browser.ErrNavigation):
		return ErrCodeNavigation
	case errors.Is(err, browser.ErrSessionClosed), errors.Is(err, browser.ErrSessionNotFound):
		return ErrCodeSessionClosed
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no element found"), strings.Contains(msg, "could not find node"):
		return ErrCodeElementNotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrCodeTimeout
	case strings.Contains(msg, "net::err"):
		return ErrCodeNavigation
	}
	return ErrCodeUnknown
}

// Unrecoverable reports whether code means the browser itself is gone, so no
// further action in the session can succeed.
func Unrecoverable(code string) bool {
	return code == string(ErrCodeSessionClosed)
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, safety.ErrValidation) ||
		errors.Is(err, ErrUnsupportedAction) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrInvalidParameters) ||
		errors.Is(err, browser.ErrInvalidSelector) ||
		errors.Is(err, browser.ErrInvalidInput) ||
		errors.Is(err, browser.ErrSessionClosed) ||
		errors.Is(err, browser.ErrSessionNotFound)
}
