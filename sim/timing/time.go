package timing

import "math"

// VTimeInCycle is a point in simulated time counted in cycles of the
// simulation clock.
type VTimeInCycle uint64

// MaxTime is a time later than any event can be scheduled at.
const MaxTime = VTimeInCycle(math.MaxUint64)

// VTimeInSec is a point in simulated time in seconds.
type VTimeInSec float64

// Freq is a clock frequency in Hz.
type Freq float64

// A list of commonly used frequencies.
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the duration of one cycle.
func (f Freq) Period() VTimeInSec {
	if f == 0 {
		panic("frequency cannot be zero")
	}

	return VTimeInSec(1.0 / float64(f))
}

// CyclesToSec converts a cycle count into seconds.
func (f Freq) CyclesToSec(cycles VTimeInCycle) VTimeInSec {
	return VTimeInSec(float64(cycles)) * f.Period()
}

// SecToCycles converts a duration in seconds into whole cycles, rounding up.
func (f Freq) SecToCycles(sec VTimeInSec) VTimeInCycle {
	if sec <= 0 {
		return 0
	}

	return VTimeInCycle(math.Ceil(float64(sec) * float64(f)))
}

// MaxCycle returns the later of two times.
func MaxCycle(a, b VTimeInCycle) VTimeInCycle {
	if a > b {
		return a
	}

	return b
}
