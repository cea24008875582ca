package timex

import (
	"time"

	"fvcontroller-go/x/mathx"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// PeriodFromHz returns the tick period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) time.Duration {
	if freqHz == 0 {
		freqHz = 1
	}
	return time.Second / time.Duration(freqHz)
}

// Backoff doubles d up to max; a zero d starts at min.
func Backoff(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	return mathx.Clamp(2*d, min, max)
}
