package thermostat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvcontroller-go/bus"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/types"
)

func TestServicePublishesStateAndServesScans(t *testing.T) {
	r := newRig(t, nil)
	r.probe.SetTemperature(240000)

	b := bus.NewBus(4)
	conn := b.NewConnection("thermostat")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &Service{Ctl: r.ctl, TickHz: 1000, Period: 2}
	require.NoError(t, svc.Start(ctx, conn))

	obs := b.NewConnection("observer")
	sub := obs.Subscribe(TopicState)
	var st types.ThermostatState
	deadline := time.After(2 * time.Second)
	for st.Cycle == 0 {
		select {
		case m := <-sub.Channel():
			st = m.Payload.(types.ThermostatState)
		case <-deadline:
			t.Fatal("no state published")
		}
	}
	assert.Equal(t, types.ValidReading(240000), st.Probes[0])
	assert.Equal(t, types.Open, st.Desired)
	assert.NotZero(t, st.TS)

	var found [2]onewire.Address
	n, err := Scanner{Conn: obs, Timeout: time.Second}.Scan(found[:])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, r.probe.Address(), found[0])
}

func TestScannerTimesOutWithoutService(t *testing.T) {
	b := bus.NewBus(4)
	_, err := Scanner{Conn: b.NewConnection("x"), Timeout: 20 * time.Millisecond}.Scan(nil)
	assert.Error(t, err)
}
