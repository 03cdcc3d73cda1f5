package engine

import "errors"

var (
	// ErrFrozen is returned when configuration is mutated after the
	// first handler was created. Programming error, not a request failure.
	ErrFrozen = errors.New("engine: configuration is frozen")

	// ErrRecorderInProduction is returned by Initialize when request
	// recording is configured in a production environment.
	ErrRecorderInProduction = errors.New("engine: request recording must not be enabled in production")

	// ErrResponseSent is returned by a Responder whose send callback has
	// been consumed and detached.
	ErrResponseSent = errors.New("engine: response already sent")

	// ErrNothingFound is the failure reported when a result-required
	// action produced an empty result.
	ErrNothingFound = errors.New("nothing found")
)

type silentError struct {
	err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }

// Silent marks err so the pipeline converts it to a 500 response without
// logging a warning. Used for expected failures that would otherwise spam
// the logs.
func Silent(err error) error {
	if err == nil {
		return nil
	}
	return &silentError{err: err}
}

// IsSilent reports whether err carries the silent marker.
func IsSilent(err error) bool {
	var s *silentError
	return errors.As(err, &s)
}
