package sse

import "errors"

// dialectError wraps a message from a provider's own `failed`/`error`
// payload so callers can tell it apart from transport-level errors.
type dialectError struct{ msg string }

func newDialectError(msg string) error {
	if msg == "" {
		msg = "stream failed"
	}
	return &dialectError{msg: msg}
}

func (e *dialectError) Error() string { return e.msg }

// IsDialectError reports whether err originated from a provider-reported
// failure event rather than a transport or decode failure.
func IsDialectError(err error) bool {
	var de *dialectError
	return errors.As(err, &de)
}
