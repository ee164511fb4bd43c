package browser

import "errors"

var (
	// ErrElementNotFound means no node matched the selector within the element wait.
	ErrElementNotFound = errors.New("element not found")
	// ErrNavigation wraps page load failures.
	ErrNavigation = errors.New("navigation error")
	// ErrSessionNotFound is returned for unknown or already closed session ids.
	ErrSessionNotFound = errors.New("browser session not found")
	ErrSessionClosed   = errors.New("browser session is closed")
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrInvalidInput marks arguments the browser cannot act on, such as an unknown
	// scroll direction or key name.
	ErrInvalidInput = errors.New("invalid input")
)
