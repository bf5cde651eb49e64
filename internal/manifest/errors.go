package manifest

import (
	"errors"
	"fmt"
)

// ErrMalformed is the sentinel all manifest parse and validation failures
// wrap. Check with errors.Is():
//
//	if errors.Is(err, manifest.ErrMalformed) {
//	    // the document is broken; retrying the fetch will not help
//	}
var ErrMalformed = errors.New("manifest: malformed")

// MalformedError describes why a manifest document was rejected. The
// reason is specific enough to point at the offending action or
// parameter so a device author can fix the document.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("manifest: malformed: %s", e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) match.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// malformedf builds a MalformedError with a formatted reason.
func malformedf(format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}
