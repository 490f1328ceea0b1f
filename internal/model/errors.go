package model

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by the review core.
var (
	ErrInvalidPrompt          = errors.New("invalid prompt")
	ErrGenerationFailed       = errors.New("generation unavailable, try again")
	ErrNoEligibleReviewer     = errors.New("no eligible reviewer")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrAuditImmutable         = errors.New("review log is append-only")
	ErrInvalidRequest         = errors.New("invalid request")
)

// TransitionError reports why a transition was refused together with the
// task's actual current state, so callers can reconcile their view.
type TransitionError struct {
	Err           error
	TaskID        string
	Event         string
	ActorID       string
	CurrentStatus TaskStatus
	Reason        string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: task %s event %q by %s (current status %s)", e.Err, e.TaskID, e.Event, e.ActorID, e.CurrentStatus)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// CurrentStatusOf extracts the task status carried by a TransitionError.
func CurrentStatusOf(err error) (TaskStatus, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.CurrentStatus, true
	}
	return "", false
}
