// Package snapshot holds the artifacts captured during one enrollment
// session and the interface used to capture them.
package snapshot

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/attendify/faceenroll/pose"
)

var (
	// ErrDuplicateStep is returned when a step already has an artifact.
	ErrDuplicateStep = errors.New("step already captured")
	// ErrInvalidArtifact is returned for artifacts with an unknown step or empty URI.
	ErrInvalidArtifact = errors.New("invalid artifact")
)

// ArtifactRef points at one captured snapshot. It is created once per step
// by a successful capture and never modified afterwards.
type ArtifactRef struct {
	Step       pose.Step
	URI        string
	CapturedAt time.Time
}

// Validate checks that the reference can be stored.
func (a ArtifactRef) Validate() error {
	if !a.Step.Valid() {
		return fmt.Errorf("%w: unknown step %d", ErrInvalidArtifact, int(a.Step))
	}

	if a.URI == "" {
		return fmt.Errorf("%w: %s has no uri", ErrInvalidArtifact, a.Step)
	}

	return nil
}

// Path returns the local file behind the URI. Both plain paths and
// file:// URIs are accepted.
func (a ArtifactRef) Path() string {
	if u, err := url.Parse(a.URI); err == nil && u.Scheme == "file" {
		return u.Path
	}

	return a.URI
}

// Store maps steps to their artifacts. It is a value type: With returns a
// new Store and never changes the receiver, so a Store captured in an old
// state record stays valid.
type Store struct {
	refs map[pose.Step]ArtifactRef
}

// With returns a copy of the store that also holds ref.
func (s Store) With(ref ArtifactRef) (Store, error) {
	if err := ref.Validate(); err != nil {
		return s, err
	}

	if _, found := s.refs[ref.Step]; found {
		return s, fmt.Errorf("%w: %s", ErrDuplicateStep, ref.Step)
	}

	refs := make(map[pose.Step]ArtifactRef, len(s.refs)+1)
	for k, v := range s.refs {
		refs[k] = v
	}

	refs[ref.Step] = ref

	return Store{refs: refs}, nil
}

// Get returns the artifact for step, if any.
func (s Store) Get(step pose.Step) (ArtifactRef, bool) {
	ref, ok := s.refs[step]

	return ref, ok
}

// Len returns the number of stored artifacts.
func (s Store) Len() int {
	return len(s.refs)
}

// Complete reports whether every step has an artifact.
func (s Store) Complete() bool {
	return len(s.refs) == pose.Count()
}

// Ordered returns the stored artifacts in capture order.
func (s Store) Ordered() []ArtifactRef {
	out := make([]ArtifactRef, 0, len(s.refs))

	for _, step := range pose.Steps() {
		if ref, ok := s.refs[step]; ok {
			out = append(out, ref)
		}
	}

	return out
}

// Steps returns the captured steps in capture order.
func (s Store) Steps() []pose.Step {
	refs := s.Ordered()
	out := make([]pose.Step, len(refs))

	for i, ref := range refs {
		out[i] = ref.Step
	}

	return out
}
