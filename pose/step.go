// Package pose decides whether a single head-orientation sample satisfies
// one of the three enrollment poses. Everything here is pure and cheap
// enough to run on the frame-analysis goroutine.
package pose

import "strings"

// Step is one of the three head orientations collected during enrollment.
// Steps are ordered; a session only ever moves forward through them.
type Step int

const (
	Center Step = iota
	Left
	Right
)

// stepCount is the number of poses a complete enrollment needs.
const stepCount = 3

// Steps returns every step in capture order.
func Steps() []Step {
	return []Step{Center, Left, Right}
}

// Count returns the number of steps in a complete enrollment.
func Count() int {
	return stepCount
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	return s >= Center && s <= Right
}

// Next returns the step that follows s. The second return value is false
// when s is the last step.
func (s Step) Next() (Step, bool) {
	if !s.Valid() || s == Right {
		return s, false
	}

	return s + 1, true
}

func (s Step) String() string {
	switch s {
	case Center:
		return "CENTER"
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return "UNKNOWN"
	}
}

// Field is the lower-case name used for this step in upload forms and file names.
func (s Step) Field() string {
	return strings.ToLower(s.String())
}
