// Package enrollment drives one guided face enrollment: three validated
// snapshots (CENTER, LEFT, RIGHT) submitted as a single batch.
//
// The flow is an explicit state record and a pure Transition function.
// Session feeds it from a single goroutine and runs the effects it asks
// for.
package enrollment

import (
	"fmt"
	"strconv"

	"github.com/attendify/faceenroll/pose"
	"github.com/attendify/faceenroll/progress"
	"github.com/attendify/faceenroll/snapshot"
	"github.com/google/uuid"
)

// Phase is the coarse stage of a session.
type Phase int

const (
	// PhaseIdle waits for Start. Samples are ignored.
	PhaseIdle Phase = iota
	// PhaseCapturing validates samples against the current step and
	// captures a snapshot each time the meter fills.
	PhaseCapturing
	// PhaseUploading has all three snapshots and waits for the batch.
	PhaseUploading
	// PhaseDone is terminal: the batch was accepted.
	PhaseDone
	// PhaseFailed holds after a rejected batch until the user acknowledges
	// it. Captured snapshots are already discarded.
	PhaseFailed
)

// String returns the upper-case phase name used in logs and metrics.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseCapturing:
		return "CAPTURING"
	case PhaseUploading:
		return "UPLOADING"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Token identifies one asynchronous operation. Results carrying any other
// token than the pending one are stale.
type Token uint64

// State is the full record of a session. Treat it as a value: Transition
// returns a new State and never modifies the one it was given.
type State struct {
	SessionID uuid.UUID
	Attempt   int
	Phase     Phase
	Step      pose.Step
	Meter     progress.Meter
	Busy      bool
	Artifacts snapshot.Store

	// Pending is the token of the in-flight capture or upload, zero if none.
	Pending Token
	// Issued is the last token handed out.
	Issued Token

	Guidance    string
	TiltWarning bool
	Notice      string
	Failure     string
}

// NewState returns an idle session waiting for Started.
func NewState(sessionID uuid.UUID) State {
	return State{
		SessionID: sessionID,
		Attempt:   1,
		Phase:     PhaseIdle,
		Step:      pose.Center,
		Guidance:  GuidanceIdle,
	}
}

// AttemptID names the current attempt. It is stable for a given session and
// attempt number so a resubmitted batch can be recognized server side.
func (s State) AttemptID() uuid.UUID {
	return uuid.NewSHA1(s.SessionID, []byte(strconv.Itoa(s.Attempt)))
}

func (s State) issue() State {
	s.Issued++
	s.Pending = s.Issued

	return s
}

// Check reports the first violated invariant, if any.
func (s State) Check() error {
	switch {
	case s.Meter.Progress < 0 || s.Meter.Progress > progress.Full:
		return fmt.Errorf("%w: progress %d out of range", ErrInvariant, s.Meter.Progress)
	case s.Artifacts.Len() > pose.Count():
		return fmt.Errorf("%w: %d artifacts", ErrInvariant, s.Artifacts.Len())
	case s.Phase == PhaseUploading && !s.Artifacts.Complete():
		return fmt.Errorf("%w: uploading with %d artifacts", ErrInvariant, s.Artifacts.Len())
	case s.Phase == PhaseFailed && s.Artifacts.Len() != 0:
		return fmt.Errorf("%w: failed session holds %d artifacts", ErrInvariant, s.Artifacts.Len())
	case s.Busy != (s.Pending != 0):
		return fmt.Errorf("%w: busy=%t with pending token %d", ErrInvariant, s.Busy, s.Pending)
	}

	if s.Phase == PhaseIdle || s.Phase == PhaseCapturing {
		// Artifacts hold exactly the steps already passed.
		if s.Artifacts.Len() != int(s.Step) {
			return fmt.Errorf("%w: %d artifacts while on %s", ErrInvariant, s.Artifacts.Len(), s.Step)
		}

		for _, step := range s.Artifacts.Steps() {
			if step >= s.Step {
				return fmt.Errorf("%w: artifact for %s while on %s", ErrInvariant, step, s.Step)
			}
		}
	}

	return nil
}

// View is the read-only projection of a State that a screen renders.
type View struct {
	Phase       Phase
	Step        pose.Step
	Label       string
	Progress    int
	Guidance    string
	TiltWarning bool
	Notice      string
	Failure     string
	Busy        bool
	Captured    int
	Attempt     int
}

// View projects the state.
func (s State) View() View {
	return View{
		Phase:       s.Phase,
		Step:        s.Step,
		Label:       pose.DefinitionFor(s.Step).Label,
		Progress:    s.Meter.Progress,
		Guidance:    s.Guidance,
		TiltWarning: s.TiltWarning,
		Notice:      s.Notice,
		Failure:     s.Failure,
		Busy:        s.Busy,
		Captured:    s.Artifacts.Len(),
		Attempt:     s.Attempt,
	}
}
