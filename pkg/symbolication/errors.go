package symbolication

import (
	"errors"
	"fmt"
)

// LibraryError is the failure to symbolicate the functions of one
// library. The functions keep their address based names.
type LibraryError struct {
	Library string
	Err     error
}

func (e *LibraryError) Error() string {
	return fmt.Sprintf("symbolicating %s: %v", e.Library, e.Err)
}

func (e *LibraryError) Unwrap() error { return e.Err }

type libraryNotFoundError struct {
	debugName  string
	breakpadID string
}

func (e libraryNotFoundError) Error() string {
	return fmt.Sprintf("symbols not found for %s/%s", e.debugName, e.breakpadID)
}

type httpStatusError struct {
	statusCode int
	body       string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %d: %s", e.statusCode, e.body)
}

// unavailableError is returned while the circuit breaker rejects requests.
type unavailableError struct{ err error }

func (e unavailableError) Error() string { return "symbol server unavailable: " + e.err.Error() }

func (e unavailableError) Unwrap() error { return e.err }

func isUnavailable(err error) bool {
	var u unavailableError
	return errors.As(err, &u)
}

// IsLibraryNotFound reports whether err means the symbol provider has
// no symbols for the library. Such failures are not retried.
func IsLibraryNotFound(err error) bool {
	var nf libraryNotFoundError
	return errors.As(err, &nf)
}

func isHTTPStatusError(err error) (int, bool) {
	var httpErr httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.statusCode, true
	}
	return 0, false
}
