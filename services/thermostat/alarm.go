package thermostat

import "fvcontroller-go/types"

// AlarmInput is what a policy sees once per cycle.
type AlarmInput struct {
	Primary  types.Reading // last good primary reading
	Misses   int           // consecutive cycles without a fresh primary reading
	Desired  types.ValveState
	Observed types.ValveObserved
}

// AlarmPolicy turns one cycle's outcome into alarm flags. Evaluate is called
// exactly once per cycle, so a policy may count cycles.
type AlarmPolicy interface {
	Evaluate(in AlarmInput) types.Alarm
}

// NoAlarms never raises anything.
type NoAlarms struct{}

func (NoAlarms) Evaluate(AlarmInput) types.Alarm { return 0 }

// Limits supplies alarm and stuck-valve thresholds; ok=false disables a pair.
type Limits interface {
	AlarmLimits() (lo, hi types.Temperature, ok bool)
	JogLimits() (lo, hi types.Temperature, ok bool)
}

// ThresholdPolicy raises:
//   - NoTemperature when there is no primary reading, or none fresh for StaleAfter cycles
//   - TooLow / TooHigh outside the alarm limits
//   - ValveStuck on contradictory feedback, on StuckAfter cycles in transit,
//     or when the temperature passes a jog limit in the direction the valve
//     should be correcting
type ThresholdPolicy struct {
	Limits     Limits
	StaleAfter int
	StuckAfter int

	transit int
}

func (p *ThresholdPolicy) Evaluate(in AlarmInput) types.Alarm {
	var a types.Alarm
	if in.Observed.InTransit() {
		p.transit++
	} else {
		p.transit = 0
	}
	if in.Observed == types.ObservedError || (p.StuckAfter > 0 && p.transit >= p.StuckAfter) {
		a |= types.AlarmValveStuck
	}

	if !in.Primary.Valid || (p.StaleAfter > 0 && in.Misses >= p.StaleAfter) {
		return a | types.AlarmNoTemperature
	}
	if p.Limits == nil {
		return a
	}
	t := in.Primary.Value
	if lo, hi, ok := p.Limits.AlarmLimits(); ok {
		if t < lo {
			a |= types.AlarmTooLow
		}
		if t > hi {
			a |= types.AlarmTooHigh
		}
	}
	if lo, hi, ok := p.Limits.JogLimits(); ok {
		if (in.Desired == types.Open && t > hi) || (in.Desired == types.Closed && t < lo) {
			a |= types.AlarmValveStuck
		}
	}
	return a
}
