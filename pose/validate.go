package pose

import "math"

// Guidance strings shown to the user. Step-specific hints live on Definition.
const (
	GuidanceNoFace    = "No face detected"
	GuidanceTilt      = "Keep your head level"
	GuidanceHoldStill = "Hold still..."
)

// Sample is one orientation estimate, in degrees. A tick with no detected
// face is represented by a nil *Sample rather than a zero value.
type Sample struct {
	Yaw  float64 `json:"yaw"  yaml:"yaw"`
	Roll float64 `json:"roll" yaml:"roll"`
}

// Verdict is the result of checking one sample against one step.
type Verdict struct {
	Satisfied   bool
	NoFace      bool
	TiltWarning bool
	Guidance    string
}

// Validate checks sample against def. The roll guard runs before the step
// predicate, so a tilted head never counts, whatever its yaw.
func Validate(sample *Sample, def Definition) Verdict {
	if sample == nil || !finite(sample.Yaw) || !finite(sample.Roll) {
		return Verdict{NoFace: true, Guidance: GuidanceNoFace}
	}

	if math.Abs(sample.Roll) > MaxRoll {
		return Verdict{TiltWarning: true, Guidance: GuidanceTilt}
	}

	if def.Satisfied != nil && def.Satisfied(sample.Yaw) {
		return Verdict{Satisfied: true, Guidance: GuidanceHoldStill}
	}

	return Verdict{Guidance: def.Hint}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
