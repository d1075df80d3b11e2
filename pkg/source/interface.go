package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound signals that a record no longer exists upstream. It drives the
// disable/delete path and is not a fetch failure.
var ErrNotFound = errors.New("record not found at source")

// ErrIncrementalUnsupported is returned by FetchChangedSince when a source
// cannot list changes. Callers fall back to a full fetch.
var ErrIncrementalUnsupported = errors.New("incremental sync not supported")

// RawPayload is one record exactly as a source returned it.
type RawPayload struct {
	ID     string
	URL    string
	Format string
	Data   []byte
}

type Filter struct {
	// Params are passed to the source as query parameters.
	Params map[string]string
}

type Client interface {
	Name() string

	// FetchAll returns every record the source currently lists.
	FetchAll(ctx context.Context, filter Filter) ([]RawPayload, error)

	// FetchOne returns a single record or an error matching ErrNotFound.
	FetchOne(ctx context.Context, id string) (RawPayload, error)

	// FetchChangedSince returns the ids changed after t, or an error matching
	// ErrIncrementalUnsupported.
	FetchChangedSince(ctx context.Context, t time.Time) ([]string, error)

	// FetchDeletedSince returns the ids removed after t. Sources without
	// deletion tracking return nil.
	FetchDeletedSince(ctx context.Context, t time.Time) ([]string, error)

	Close() error
}

// Connector is implemented by clients that need a setup call before the
// first fetch.
type Connector interface {
	Connect(ctx context.Context) error
}

// StatusError carries an unexpected upstream status code.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Is reports 403, 404 and 410 as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	switch e.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	default:
		return false
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
