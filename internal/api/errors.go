package api

import "fmt"

// RequestError is returned when a request cannot produce a usable document:
// the upstream is unreachable, retries are exhausted, the status is not
// retryable, or the body is not a JSON object.
type RequestError struct {
	Endpoint string
	Status   int    // 0 when no response was received
	Body     string // truncated response body
	Err      error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("request %s failed: %v", e.Endpoint, e.Err)
	case e.Err != nil && e.Body != "":
		return fmt.Sprintf("HTTP %d %s: %v: %s", e.Status, e.Endpoint, e.Err, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("HTTP %d %s: %v", e.Status, e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Endpoint, e.Body)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
