//go:build !(rp2040 || rp2350)

package platform

import (
	"context"
	"os"
	"sync"
	"time"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/drivers/onewire/onewiresim"
	"fvcontroller-go/drivers/valve"
	"fvcontroller-go/services/registers"
	"fvcontroller-go/types"
)

// SimProbe is the serial of the fermenter probe on the simulated bus.
const SimProbe = 0x00000000F00D

// Open builds a simulated board: one probe in a fermenter that warms while
// the valve is closed and cools while it is open. The console is stdio.
func Open(ctx context.Context) (*Board, error) {
	b, sim := OpenSim(types.Degrees(18, 5000))
	go sim.Run(ctx, time.Second)
	return b, nil
}

// OpenSim returns the board and its plant without starting the plant.
func OpenSim(start types.Temperature) (*Board, *Plant) {
	probe := onewiresim.NewDS18B20(SimProbe)
	line := onewiresim.NewLine(probe)
	plant := &Plant{Probe: probe, Line: line, Rate: types.Degrees(0, 625), temp: start}
	probe.SetTemperature(start)

	b := &Board{
		Name:     "sim",
		OneWire:  onewire.NewMaster(line, line),
		Coils:    valve.Coils{ASet: plantCoil{plant, true}, AReset: plantCoil{plant, false}},
		Feedback: valve.Feedback{Open: plantSwitch{plant, true}, Closed: plantSwitch{plant, false}},
		LED:      &FakeLine{},
		Console:  stdio{},
		NV:       registers.NewMemBlock(registers.BlockSize),
	}
	b.Backlight = &FakeLine{}
	b.Transmit = func(on bool) {
		if on {
			println("[platform] transmitter on")
		} else {
			println("[platform] transmitter off")
		}
	}
	return b, plant
}

// Plant is a fermenter whose cooling jacket is fed through the valve.
type Plant struct {
	Probe *onewiresim.Device
	Line  *onewiresim.Line
	// Rate is the drift per step, warming when closed and cooling when open.
	Rate types.Temperature

	mu   sync.Mutex
	open bool
	temp types.Temperature
}

func (p *Plant) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Plant) Temperature() types.Temperature {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temp
}

func (p *Plant) setValve(open bool) {
	p.mu.Lock()
	p.open = open
	p.mu.Unlock()
}

// Step advances the plant once and updates what the probe will measure.
func (p *Plant) Step() {
	p.mu.Lock()
	if p.open {
		p.temp -= p.Rate
	} else {
		p.temp += p.Rate
	}
	t := p.temp
	p.mu.Unlock()
	p.Probe.SetTemperature(t)
}

func (p *Plant) Run(ctx context.Context, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.Step()
		}
	}
}

// plantCoil latches the valve on a rising edge.
type plantCoil struct {
	p    *Plant
	open bool
}

func (c plantCoil) Set(on bool) {
	if on {
		c.p.setValve(c.open)
	}
}

type plantSwitch struct {
	p    *Plant
	open bool
}

func (s plantSwitch) Get() bool { return s.p.Open() == s.open }

// FakeLine is an output that only remembers its level.
type FakeLine struct {
	mu sync.Mutex
	on bool
}

func (f *FakeLine) Set(on bool) {
	f.mu.Lock()
	f.on = on
	f.mu.Unlock()
}

func (f *FakeLine) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
