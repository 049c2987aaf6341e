// Package batch abstracts the asynchronous bulk-inference transports used for
// enrichment. A Backend runs one synchronous completion (vocabulary
// discovery), submits a keyed batch, reports its status and streams back
// newline-delimited per-item results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Request is one classification request, keyed by the conversation ID.
type Request struct {
	CustomID string
	System   string
	User     string
}

// Status is a point-in-time view of a submitted job.
type Status struct {
	// Done is true once the backend reports a terminal processing state.
	Done bool
	// State is the backend's own status string.
	State string
	// Location addresses the results stream; empty until results exist.
	Location string
}

// Result is one decoded results line.
type Result struct {
	CustomID  string
	Succeeded bool
	// Text is the model output of a succeeded item.
	Text string
	// Detail describes why an item did not succeed.
	Detail string
}

// Backend is a batch inference provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
	Submit(ctx context.Context, reqs []Request) (string, error)
	Poll(ctx context.Context, jobID string) (Status, error)
	Fetch(ctx context.Context, location string) (io.ReadCloser, error)
	ParseResult(line []byte) (Result, error)
}

// TransportError is a network or backend failure. StatusCode and Body are set
// when the backend answered with an HTTP error.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Unauthorized reports whether the backend rejected the credential.
func (e *TransportError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err carries an unauthorized TransportError.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Unauthorized()
}
