// Package progress turns a stream of satisfied/unsatisfied verdicts into a
// bounded completion percentage. Decay outpaces growth, so a momentary
// correct angle cannot complete a pose while a held pose completes in
// Full/Gain ticks.
package progress

const (
	// Full is the completion value that triggers a capture.
	Full = 100
	// Gain is added for every satisfied sample.
	Gain = 4
	// Decay is removed for every unsatisfied sample.
	Decay = 10
)

// Next returns the progress value after one tick.
func Next(progress int, satisfied bool) int {
	progress = clamp(progress)

	if satisfied {
		return min(Full, progress+Gain)
	}

	return max(0, progress-Decay)
}

// TicksToFull is the number of consecutive satisfied ticks needed to go
// from zero to Full.
func TicksToFull() int {
	return (Full + Gain - 1) / Gain
}

// Meter is the accumulator state for one step. Latched records that the
// current run at Full has already fired, so holding at Full never fires twice.
type Meter struct {
	Progress int
	Latched  bool
}

// Advance feeds one verdict into the meter. fired is true only on the tick
// where progress first reaches Full.
func (m Meter) Advance(satisfied bool) (next Meter, fired bool) {
	next.Progress = Next(m.Progress, satisfied)

	if next.Progress < Full {
		return next, false
	}

	if m.Latched {
		next.Latched = true

		return next, false
	}

	next.Latched = true

	return next, true
}

// Reset returns an empty meter, ready for the next step.
func (m Meter) Reset() Meter {
	return Meter{}
}

// Percent is the progress as a fraction in [0, 1].
func (m Meter) Percent() float64 {
	return float64(clamp(m.Progress)) / Full
}

func clamp(progress int) int {
	return max(0, min(Full, progress))
}
