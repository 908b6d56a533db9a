package enrollment

import (
	"github.com/attendify/faceenroll/pose"
	"github.com/attendify/faceenroll/snapshot"
	"github.com/google/uuid"
)

// Event is an input to Transition.
type Event interface {
	isEvent()
}

// Started is the user's start gesture.
type Started struct{}

// Sampled carries one orientation sample. A nil Sample means no face.
type Sampled struct {
	Sample *pose.Sample
}

// CaptureSettled is the result of a CaptureRequested effect.
type CaptureSettled struct {
	Token    Token
	Artifact snapshot.ArtifactRef
	Err      error
}

// UploadSettled is the result of an UploadRequested effect.
type UploadSettled struct {
	Token Token
	Err   error
}

// Acknowledged is the user dismissing the failure notice.
type Acknowledged struct{}

func (Started) isEvent()        {}
func (Sampled) isEvent()        {}
func (CaptureSettled) isEvent() {}
func (UploadSettled) isEvent()  {}
func (Acknowledged) isEvent()   {}

// Effect is work Transition asks its caller to do.
type Effect interface {
	isEffect()
}

// CaptureRequested asks for a snapshot of Step. Answer with CaptureSettled
// carrying the same token.
type CaptureRequested struct {
	Token Token
	Step  pose.Step
}

// UploadRequested asks for the batch to be uploaded. Artifacts are in step
// order. Answer with UploadSettled carrying the same token.
type UploadRequested struct {
	Token     Token
	AttemptID uuid.UUID
	Artifacts []snapshot.ArtifactRef
}

// Discarded lists artifacts the session no longer holds. Their backing
// files may be removed.
type Discarded struct {
	Artifacts []snapshot.ArtifactRef
}

// Completed reports the end of an attempt.
type Completed struct {
	Outcome Outcome
}

func (CaptureRequested) isEffect() {}
func (UploadRequested) isEffect()  {}
func (Discarded) isEffect()        {}
func (Completed) isEffect()        {}

// OutcomeKind says how an attempt ended. Only a finished upload produces
// an outcome; capture failures are retried within the same attempt.
type OutcomeKind int

const (
	// Success means every part of the batch was accepted.
	Success OutcomeKind = iota
	// Failure means at least one part was rejected or could not be sent.
	Failure
)

func (k OutcomeKind) String() string {
	if k == Success {
		return "success"
	}

	return "failure"
}

// Outcome is the result of one attempt. On success Artifacts holds the
// uploaded snapshots, which the caller now owns.
type Outcome struct {
	Kind      OutcomeKind
	Reason    string
	Attempt   int
	AttemptID uuid.UUID
	Artifacts []snapshot.ArtifactRef
}
