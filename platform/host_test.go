//go:build !(rp2040 || rp2350)

package platform

import (
	"testing"

	"fvcontroller-go/drivers/ds18b20"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/drivers/valve"
	"fvcontroller-go/types"
)

func TestSimBoardProbe(t *testing.T) {
	b, plant := OpenSim(types.Degrees(18, 5000))
	bus := onewire.NewBus(b.OneWire, &onewire.Faults{})

	var addrs [onewire.MaxDevices]onewire.Address
	n, err := bus.Scan(addrs[:])
	if err != nil || n != 1 {
		t.Fatalf("scan: n=%d err=%v", n, err)
	}
	if addrs[0] != plant.Probe.Address() {
		t.Fatalf("found %v, want %v", addrs[0], plant.Probe.Address())
	}

	if !ds18b20.StartConversion(bus) {
		t.Fatal("no presence on conversion")
	}
	r := ds18b20.ReadTemperature(bus, addrs[0])
	if !r.Valid || r.Value != types.Degrees(18, 5000) {
		t.Fatalf("reading %v", r)
	}
}

func TestSimPlantFollowsValve(t *testing.T) {
	b, plant := OpenSim(types.Degrees(20, 0))
	v := valve.New(types.SpringReturn, b.Coils, b.Feedback)

	plant.Step()
	if got := plant.Temperature(); got != types.Degrees(20, 625) {
		t.Fatalf("closed valve should warm, got %v", got)
	}

	v.Command(types.Open)
	if !plant.Open() {
		t.Fatal("valve did not latch open")
	}
	if got := v.Observed(types.Open); got != types.ObservedOpen {
		t.Fatalf("observed %v", got)
	}
	plant.Step()
	plant.Step()
	if got := plant.Temperature(); got != types.Degrees(19, 9375) {
		t.Fatalf("open valve should cool, got %v", got)
	}

	v.Command(types.Closed)
	if plant.Open() {
		t.Fatal("valve did not latch closed")
	}
}

func TestFakeLine(t *testing.T) {
	var l FakeLine
	l.Set(true)
	if !l.Get() {
		t.Fatal("want on")
	}
	l.Set(false)
	if l.Get() {
		t.Fatal("want off")
	}
}
