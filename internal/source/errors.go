package source

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/seenimoa/landlinked/internal/infra"
)

// ErrNoData means the remote call succeeded but produced no usable
// observation for the requested countries.
var ErrNoData = errors.New("no data available")

// ErrUnknownIndicator is returned when a plugin is asked for an indicator
// outside its catalogue subset.
var ErrUnknownIndicator = errors.New("unknown indicator")

// ErrMissingParams is returned when a catalogue entry lacks parameters the
// source needs to build its query.
var ErrMissingParams = errors.New("missing indicator parameters")

// FetchError is a transport, status or decode failure that survived the
// retry budget.
type FetchError struct {
	Source   string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s failed after %d attempt(s): %v", e.Source, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether a later run could succeed. Client errors
// (HTTP 4xx) are not temporary.
func (e *FetchError) Temporary() bool {
	return !infra.IsPermanent(e.Err)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// retryable reports whether the status code is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// ErrPluginNotFound is returned when a requested plugin is not registered.
type ErrPluginNotFound struct {
	Name string
}

func (e *ErrPluginNotFound) Error() string {
	return fmt.Sprintf("source plugin %q not found", e.Name)
}
