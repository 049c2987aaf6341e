package enrich

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoLabels means vocabulary discovery produced nothing to classify against.
	ErrNoLabels = errors.New("vocabulary discovery returned no labels")
	// ErrNothingToEnrich means the store holds no conversations.
	ErrNothingToEnrich = errors.New("no conversations to enrich")
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("an enrichment run is already in progress")
)

// CredentialError reports a missing or rejected API key. When Invalid is set
// the stored key has already been removed.
type CredentialError struct {
	Invalid bool
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Invalid {
		return fmt.Sprintf("invalid API key, please enter it again: %v", e.Err)
	}
	return fmt.Sprintf("no API key available: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TimeoutError means the batch was still running when the poll ceiling was hit.
type TimeoutError struct {
	Polls   int
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("batch still running after %d polls (%s)", e.Polls, e.Elapsed.Round(time.Second))
}

// BatchFailedError means the backend ended the job without producing results.
type BatchFailedError struct {
	Status string
}

func (e *BatchFailedError) Error() string {
	return fmt.Sprintf("batch ended with status %q and no results", e.Status)
}
