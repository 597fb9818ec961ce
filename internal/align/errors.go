package align

import (
	"errors"
	"fmt"
)

// ErrAlignment is matched by every *AlignmentError.
var ErrAlignment = errors.New("alignment failed")

// ErrBackendUnavailable is returned when the configured backend was not
// compiled into the binary.
var ErrBackendUnavailable = errors.New("alignment backend not available in this build")

// AlignmentError reports that no usable homography could be estimated for
// a photo. Retrying with the same photo will fail the same way.
type AlignmentError struct {
	Template string
	Reason   string
	Matches  int // retained matches at the time of failure
	Err      error
}

func (e *AlignmentError) Error() string {
	msg := fmt.Sprintf("alignment to template %q failed: %s (%d matches)", e.Template, e.Reason, e.Matches)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AlignmentError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAlignment) true for any AlignmentError.
func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }
