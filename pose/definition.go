package pose

import "math"

const (
	// MaxRoll is the largest absolute head tilt (degrees) that still counts
	// as a usable sample. Anything beyond it is rejected for every step.
	MaxRoll = 20.0

	// CenterYaw bounds |yaw| for the CENTER pose (exclusive).
	CenterYaw = 10.0

	// TurnYaw is the yaw a LEFT or RIGHT pose must exceed (exclusive).
	TurnYaw = 15.0
)

// Definition is the fixed description of one step: what it is called on
// screen, what yaw satisfies it, and what to tell the user otherwise.
type Definition struct {
	Step      Step
	Label     string
	Hint      string
	Satisfied func(yaw float64) bool
}

//nolint:gochecknoglobals
var definitions = [stepCount]Definition{
	{
		Step:  Center,
		Label: "Look Straight",
		Hint:  "Look straight at the camera",
		Satisfied: func(yaw float64) bool {
			return math.Abs(yaw) < CenterYaw
		},
	},
	{
		Step:  Left,
		Label: "Turn Left",
		Hint:  "Turn your head more to the left",
		Satisfied: func(yaw float64) bool {
			return yaw > TurnYaw
		},
	},
	{
		Step:  Right,
		Label: "Turn Right",
		Hint:  "Turn your head more to the right",
		Satisfied: func(yaw float64) bool {
			return yaw < -TurnYaw
		},
	},
}

// DefinitionFor returns the definition of step. Unknown steps get a
// definition that is never satisfied.
func DefinitionFor(step Step) Definition {
	if !step.Valid() {
		return Definition{
			Step:      step,
			Label:     step.String(),
			Hint:      "Align your face",
			Satisfied: func(float64) bool { return false },
		}
	}

	return definitions[step]
}
