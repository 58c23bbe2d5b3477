package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors for the streaming client domain.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// connection. Closed is terminal; build a new connection to resume.
	ErrClosed = errors.New("stream closed")

	// ErrRetriesExhausted is surfaced as the fatal error once the
	// reconnect policy's attempt budget is spent.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotConnected is returned by operations that require an
	// established transport.
	ErrNotConnected = errors.New("not connected")
)

// HTTPError represents a non-2xx response where a stream was expected.
// It is a transport error: the lifecycle manager recovers from it via
// reconnect, not by surfacing it as a protocol event.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error returns a formatted error string including status and body.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// NewHTTPError reads up to 4KB from the response body and returns an
// HTTPError for the response status.
func NewHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}
