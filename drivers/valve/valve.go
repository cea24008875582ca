// Package valve maps a desired open/closed state onto latching relay coils
// and derives the observed state from limit-switch inputs.
//
// Each relay has a set and a reset coil. A spring-return valve uses relay A
// only; ball valves use A to drive and B to brake, so the order of the two
// pulses keeps both coils of the motor bridge from being energised at once.
package valve

import (
	"time"

	"fvcontroller-go/types"
)

// PulseWidth is the coil operate time.
const PulseWidth = 4 * time.Millisecond

// Output is a digital output line.
type Output interface{ Set(bool) }

// Input is a digital input line, true when active.
type Input interface{ Get() bool }

// Coils are the relay drive lines. B may be nil for SpringReturn.
type Coils struct {
	ASet, AReset Output
	BSet, BReset Output
}

// Feedback are the limit switches. Either may be nil. SpringReturn reads Open only.
type Feedback struct {
	Open, Closed Input
}

type Valve struct {
	topology types.ValveTopology
	coils    Coils
	fb       Feedback
}

var sleep = time.Sleep

func New(t types.ValveTopology, c Coils, fb Feedback) *Valve {
	return &Valve{topology: t, coils: c, fb: fb}
}

func (v *Valve) Topology() types.ValveTopology { return v.topology }

// SetTopology changes the wiring pattern; it takes effect on the next command.
func (v *Valve) SetTopology(t types.ValveTopology) { v.topology = t }

// Apply pulses the coils only if next differs from prev and reports whether
// it did.
func (v *Valve) Apply(prev, next types.ValveState) bool {
	if prev == next {
		return false
	}
	v.Command(next)
	return true
}

// Command drives the coils for s unconditionally.
func (v *Valve) Command(s types.ValveState) {
	switch v.topology {
	case types.SpringReturn:
		if s == types.Open {
			pulse(v.coils.ASet)
		} else {
			pulse(v.coils.AReset)
		}
	default:
		if s == types.Open {
			pulse(v.coils.ASet)
			pulse(v.coils.BReset)
		} else {
			pulse(v.coils.BSet)
			pulse(v.coils.AReset)
		}
	}
}

func pulse(o Output) {
	if o == nil {
		return
	}
	o.Set(true)
	sleep(PulseWidth)
	o.Set(false)
}

// Observed derives the valve position from the desired state and whatever
// feedback the topology has. It reads the inputs on every call.
func (v *Valve) Observed(desired types.ValveState) types.ValveObserved {
	switch v.topology {
	case types.SpringReturn:
		if v.fb.Open == nil {
			return mirror(desired)
		}
		return settle(desired, v.fb.Open.Get(), !v.fb.Open.Get())
	case types.BallWithFeedback:
		open, closed := active(v.fb.Open), active(v.fb.Closed)
		if open && closed {
			return types.ObservedError
		}
		return settle(desired, open, closed)
	}
	return mirror(desired)
}

func active(in Input) bool { return in != nil && in.Get() }

func mirror(d types.ValveState) types.ValveObserved {
	if d == types.Open {
		return types.ObservedOpen
	}
	return types.ObservedClosed
}

// settle reports the end position when the matching switch is made and
// transit otherwise.
func settle(d types.ValveState, atOpen, atClosed bool) types.ValveObserved {
	if d == types.Open {
		if atOpen {
			return types.ObservedOpen
		}
		return types.ObservedOpening
	}
	if atClosed {
		return types.ObservedClosed
	}
	return types.ObservedClosing
}
