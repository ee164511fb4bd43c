// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrSessionNotFound is returned for ids the service does not know.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidStateTransition is returned when a command does not apply to the
	// session's current status. Terminal sessions reject every mutation.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrServiceClosed is returned by CreateSession after Shutdown.
	ErrServiceClosed = errors.New("agent service is shut down")
)

// Failure messages recorded on AgentSession.Error.
const (
	msgDurationExceeded = "maximum session duration exceeded"
	msgBlocked          = "actions blocked by safety policy"
	msgBrowserLost      = "browser session is no longer available"
)
