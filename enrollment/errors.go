package enrollment

import (
	"errors"
	"fmt"

	"github.com/attendify/faceenroll/pose"
)

var (
	// ErrInvariant is returned by State.Check.
	ErrInvariant = errors.New("session invariant violated")
	// ErrClosed is returned when posting to a session that has stopped.
	ErrClosed = errors.New("session closed")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrStepMismatch means a capturer returned an artifact for the wrong step.
	ErrStepMismatch = errors.New("artifact step mismatch")
	// ErrEffectPanicked wraps a panic raised while capturing or uploading.
	ErrEffectPanicked = errors.New("effect panicked")
)

// StepError wraps an error with the pose step it happened on.
type StepError struct {
	Step pose.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// WrapStepError wraps an error with step context.
func WrapStepError(step pose.Step, err error) error {
	if err == nil {
		return nil
	}

	return &StepError{
		Step: step,
		Err:  err,
	}
}
