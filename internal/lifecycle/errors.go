package lifecycle

import (
	"fmt"

	"caseline/internal/domain"
)

// InvalidTransitionError reports a requested status edge that is not part of
// the case graph. Fatal to the request; never retried.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// ValidationError reports a patch that violates a cross-field business rule.
// Field identifies the offending path for the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
