package location

import (
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by Store.WriteCounters when the record
// version no longer matches: a concurrent report committed in between.
// The service retries once, then escalates to an UpstreamError.
var ErrVersionConflict = errors.New("location record version conflict")

// ValidationError marks malformed client input. Terminal, never retried,
// and no state is touched before it is raised.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a store or nearby-search failure. Handlers surface it
// as a generic internal error; the wrapped cause goes to the log only.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
