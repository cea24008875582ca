package thermostat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fvcontroller-go/types"
)

type limits struct {
	alo, ahi, jlo, jhi types.Temperature
	alarm, jog         bool
}

func (l limits) AlarmLimits() (types.Temperature, types.Temperature, bool) {
	return l.alo, l.ahi, l.alarm
}
func (l limits) JogLimits() (types.Temperature, types.Temperature, bool) {
	return l.jlo, l.jhi, l.jog
}

func TestThresholdPolicy(t *testing.T) {
	l := limits{alo: 150000, ahi: 250000, jlo: 200000, jhi: 240000, alarm: true, jog: true}
	at := func(v types.Temperature, d types.ValveState) AlarmInput {
		o := types.ObservedClosed
		if d == types.Open {
			o = types.ObservedOpen
		}
		return AlarmInput{Primary: types.ValidReading(v), Desired: d, Observed: o}
	}
	cases := []struct {
		name string
		in   AlarmInput
		want types.Alarm
	}{
		{"in range", at(220000, types.Closed), 0},
		{"too low", at(140000, types.Closed), types.AlarmTooLow | types.AlarmValveStuck},
		{"too high", at(260000, types.Open), types.AlarmTooHigh | types.AlarmValveStuck},
		{"jog high while open", at(245000, types.Open), types.AlarmValveStuck},
		{"above jog while closed", at(245000, types.Closed), 0},
		{"no reading", AlarmInput{}, types.AlarmNoTemperature},
		{"stale", AlarmInput{Primary: types.ValidReading(220000), Misses: 3}, types.AlarmNoTemperature},
		{"contradictory feedback", AlarmInput{Primary: types.ValidReading(220000), Observed: types.ObservedError}, types.AlarmValveStuck},
	}
	for _, c := range cases {
		p := &ThresholdPolicy{Limits: l, StaleAfter: 3, StuckAfter: 2}
		assert.Equal(t, c.want, p.Evaluate(c.in), c.name)
	}
}

func TestThresholdPolicyStuckInTransit(t *testing.T) {
	p := &ThresholdPolicy{StuckAfter: 3}
	in := AlarmInput{Primary: types.ValidReading(220000), Desired: types.Open, Observed: types.ObservedOpening}
	assert.Zero(t, p.Evaluate(in))
	assert.Zero(t, p.Evaluate(in))
	assert.Equal(t, types.AlarmValveStuck, p.Evaluate(in))

	in.Observed = types.ObservedOpen
	assert.Zero(t, p.Evaluate(in))
}

func TestThresholdPolicyDisabledLimits(t *testing.T) {
	p := &ThresholdPolicy{Limits: limits{}}
	assert.Zero(t, p.Evaluate(AlarmInput{Primary: types.ValidReading(-400000)}))
}
