package timing

// SecondsClock reports the time of a TimeTeller in seconds. It satisfies
// hooking.TimeTeller, so tracers can record wall-clock-like times.
type SecondsClock struct {
	TimeTeller TimeTeller
	Freq       Freq
}

// Now returns the current time in seconds.
func (c SecondsClock) Now() float64 {
	return float64(c.Freq.CyclesToSec(c.TimeTeller.CurrentTime()))
}
