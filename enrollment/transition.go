package enrollment

import (
	"fmt"

	"github.com/attendify/faceenroll/pose"
	"github.com/attendify/faceenroll/snapshot"
)

// Text shown outside of the per-sample pose guidance.
const (
	GuidanceIdle      = "Tap Start to begin"
	GuidanceUploading = "Registering your face..."
	GuidanceDone      = "Face registered successfully"

	// NoticeCaptureFailed is shown without stopping the flow: the step
	// stays put and the next full meter retries the capture.
	NoticeCaptureFailed = "Failed to capture photo. Please try again."
	// NoticeUploadFailed is the guidance of PhaseFailed. The session waits
	// for Acknowledge before a new attempt can start.
	NoticeUploadFailed = "Registration failed. Please start again."
)

// Transition applies ev to s and returns the next state together with the
// effects the caller must run. It is pure: no I/O, no clock, no randomness.
// Events that don't apply to the current state return s unchanged and no
// effects.
func Transition(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case Started:
		return started(s)
	case Sampled:
		return sampled(s, ev.Sample)
	case CaptureSettled:
		return captureSettled(s, ev)
	case UploadSettled:
		return uploadSettled(s, ev)
	case Acknowledged:
		return acknowledged(s)
	default:
		return s, nil
	}
}

func started(s State) (State, []Effect) {
	if s.Phase != PhaseIdle {
		return s, nil
	}

	s.Phase = PhaseCapturing
	s.Step = pose.Center
	s.Meter = s.Meter.Reset()
	s.Guidance = pose.DefinitionFor(s.Step).Hint
	s.TiltWarning = false
	s.Notice = ""
	s.Failure = ""

	return s, nil
}

func sampled(s State, sample *pose.Sample) (State, []Effect) {
	// Samples are dropped, not queued, while a capture is in flight.
	if s.Phase != PhaseCapturing || s.Busy {
		return s, nil
	}

	verdict := pose.Validate(sample, pose.DefinitionFor(s.Step))

	meter, fired := s.Meter.Advance(verdict.Satisfied)

	s.Meter = meter
	s.Guidance = verdict.Guidance
	s.TiltWarning = verdict.TiltWarning

	if !fired {
		return s, nil
	}

	s = s.issue()
	s.Busy = true
	s.Notice = ""

	return s, []Effect{CaptureRequested{Token: s.Pending, Step: s.Step}}
}

func captureSettled(s State, ev CaptureSettled) (State, []Effect) {
	if s.Phase != PhaseCapturing || !s.Busy || ev.Token != s.Pending {
		return s, discardStale(ev)
	}

	s.Busy = false
	s.Pending = 0
	s.Meter = s.Meter.Reset()

	err := ev.Err
	if err == nil && ev.Artifact.Step != s.Step {
		err = fmt.Errorf("%w: got %s", ErrStepMismatch, ev.Artifact.Step)
	}

	var store snapshot.Store
	if err == nil {
		store, err = s.Artifacts.With(ev.Artifact)
	}

	if err != nil {
		// Retry in place: same step, earlier artifacts kept.
		s.Notice = NoticeCaptureFailed
		s.Guidance = pose.DefinitionFor(s.Step).Hint

		return s, discardStale(ev)
	}

	s.Artifacts = store

	if next, ok := s.Step.Next(); ok {
		s.Step = next
		s.Guidance = pose.DefinitionFor(s.Step).Hint
		s.TiltWarning = false

		return s, nil
	}

	s = s.issue()
	s.Phase = PhaseUploading
	s.Busy = true
	s.Guidance = GuidanceUploading
	s.TiltWarning = false

	return s, []Effect{UploadRequested{
		Token:     s.Pending,
		AttemptID: s.AttemptID(),
		Artifacts: s.Artifacts.Ordered(),
	}}
}

// discardStale releases the artifact of a capture result the session won't
// keep.
func discardStale(ev CaptureSettled) []Effect {
	if ev.Err != nil || ev.Artifact.URI == "" {
		return nil
	}

	return []Effect{Discarded{Artifacts: []snapshot.ArtifactRef{ev.Artifact}}}
}

func uploadSettled(s State, ev UploadSettled) (State, []Effect) {
	if s.Phase != PhaseUploading || ev.Token != s.Pending {
		return s, nil
	}

	artifacts := s.Artifacts.Ordered()

	s.Busy = false
	s.Pending = 0

	if ev.Err == nil {
		s.Phase = PhaseDone
		s.Guidance = GuidanceDone

		return s, []Effect{Completed{Outcome: Outcome{
			Kind:      Success,
			Attempt:   s.Attempt,
			AttemptID: s.AttemptID(),
			Artifacts: artifacts,
		}}}
	}

	// All or nothing: a failed batch throws away every snapshot.
	s.Phase = PhaseFailed
	s.Artifacts = snapshot.Store{}
	s.Step = pose.Center
	s.Meter = s.Meter.Reset()
	s.Guidance = NoticeUploadFailed
	s.Failure = ev.Err.Error()

	return s, []Effect{
		Discarded{Artifacts: artifacts},
		Completed{Outcome: Outcome{
			Kind:      Failure,
			Reason:    s.Failure,
			Attempt:   s.Attempt,
			AttemptID: s.AttemptID(),
		}},
	}
}

func acknowledged(s State) (State, []Effect) {
	if s.Phase != PhaseFailed {
		return s, nil
	}

	s.Phase = PhaseIdle
	s.Attempt++
	s.Step = pose.Center
	s.Meter = s.Meter.Reset()
	s.Guidance = GuidanceIdle
	s.TiltWarning = false
	s.Notice = ""
	s.Failure = ""

	return s, nil
}
