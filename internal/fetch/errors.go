package fetch

import "fmt"

// NetworkError represents connection failures and non-2xx responses from the
// dataset host.
type NetworkError struct {
	Operation  string // The operation that failed (e.g. "get", "read_body")
	URL        string
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s (HTTP %d): %s", e.Operation, e.URL, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s of %s: %s", e.Operation, e.URL, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IncompleteDownloadError is returned when the number of bytes received does
// not match the total declared by the server.
type IncompleteDownloadError struct {
	Path     string
	Expected int64
	Received int64
	Err      error // read error that cut the body short, if any
}

func (e *IncompleteDownloadError) Error() string {
	return fmt.Sprintf("incomplete download of %s: expected %d bytes, received %d", e.Path, e.Expected, e.Received)
}

func (e *IncompleteDownloadError) Unwrap() error {
	return e.Err
}
