package kinetic

import "fmt"

// Error wraps a Status with enough context to identify which
// operation failed. Synchronous failures (the builders)
// return *Error directly; asynchronous failures carry the same type
// through the completion callback via CompletionResult.Err.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// newError builds an *Error carrying status and a formatted message.
func newError(status Status, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the Status an error represents, defaulting to
// StatusOperationFailed for errors this package didn't originate.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if kerr, ok := err.(*Error); ok {
		return kerr.Status
	}
	return StatusOperationFailed
}
