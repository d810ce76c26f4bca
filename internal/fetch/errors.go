package fetch

import "fmt"

// TransportError represents a request that never produced an HTTP response:
// DNS failures, refused connections, timeouts, truncated bodies.
type TransportError struct {
	URL string // Requested URL
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError represents a response with a non-2xx status code.
type HTTPStatusError struct {
	URL        string // Requested URL
	StatusCode int    // HTTP status code
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected HTTP status %d", e.URL, e.StatusCode)
}
