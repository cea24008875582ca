// Package onewiresim simulates a one-wire line at slot level so the bus
// master, ROM search and DS18B20 transactions can run on a host.
//
// Line implements both onewire.Pin and onewire.Clock. Time only moves when
// the master calls DelayMicros.
package onewiresim

import (
	"sync"

	"fvcontroller-go/drivers/onewire"
)

const (
	resetMin       = 400 // µs of low that devices treat as a reset
	writeOneMax    = 15  // a release before this is a 1 slot
	deviceHold     = 30  // devices pull a 0 for this long from slot start
	presenceDelay  = 15
	presenceLength = 120
)

type stuck uint8

const (
	free stuck = iota
	stuckLow
	stuckHigh
)

// Line is a simulated bus. It is safe to configure from another goroutine
// while the master runs.
type Line struct {
	mu sync.Mutex

	now      uint64
	driving  bool
	lowStart uint64

	// device-side pull-downs
	holdUntil     uint64
	presenceFrom  uint64
	presenceUntil uint64

	devices []*Device
	stuck   stuck

	irqDepth     int
	Resets       int
	Slots        int
	Unprotected  int // slots ended with interrupts enabled
	MaxIRQNested int
}

var _ onewire.Pin = (*Line)(nil)
var _ onewire.Clock = (*Line)(nil)

func NewLine(devs ...*Device) *Line {
	return &Line{devices: devs}
}

// Attach adds a device to the bus.
func (l *Line) Attach(d *Device) {
	l.mu.Lock()
	l.devices = append(l.devices, d)
	l.mu.Unlock()
}

// Detach removes a device from the bus.
func (l *Line) Detach(d *Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, x := range l.devices {
		if x == d {
			l.devices = append(l.devices[:i], l.devices[i+1:]...)
			return
		}
	}
}

// ShortLow ties the line to ground.
func (l *Line) ShortLow() { l.setStuck(stuckLow) }

// ShortHigh ties the line to the supply.
func (l *Line) ShortHigh() { l.setStuck(stuckHigh) }

// Clear removes any short.
func (l *Line) Clear() { l.setStuck(free) }

func (l *Line) setStuck(s stuck) {
	l.mu.Lock()
	l.stuck = s
	l.mu.Unlock()
}

// Now is the simulated time in microseconds.
func (l *Line) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// ---- onewire.Pin ----

func (l *Line) Low() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.driving {
		return
	}
	l.driving = true
	l.lowStart = l.now
	// Each device decides now whether it holds a 0 for this slot.
	for _, d := range l.devices {
		if !d.output() {
			l.holdUntil = l.now + deviceHold
		}
	}
}

func (l *Line) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.driving {
		return
	}
	l.driving = false
	held := l.now - l.lowStart
	if held >= resetMin {
		l.Resets++
		l.holdUntil = 0
		present := false
		for _, d := range l.devices {
			d.reset()
			present = true
		}
		if present {
			l.presenceFrom = l.now + presenceDelay
			l.presenceUntil = l.presenceFrom + presenceLength
		}
		return
	}
	l.Slots++
	if l.irqDepth == 0 {
		l.Unprotected++
	}
	bit := held < writeOneMax
	for _, d := range l.devices {
		if !d.output() {
			bit = false
		}
	}
	for _, d := range l.devices {
		d.slot(bit)
	}
}

func (l *Line) Get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.levelLocked()
}

func (l *Line) levelLocked() bool {
	switch l.stuck {
	case stuckLow:
		return false
	case stuckHigh:
		return true
	}
	if l.driving {
		return false
	}
	if l.now < l.holdUntil {
		return false
	}
	if l.now >= l.presenceFrom && l.now < l.presenceUntil {
		return false
	}
	return true
}

// ---- onewire.Clock ----

func (l *Line) DelayMicros(us uint32) {
	l.mu.Lock()
	l.now += uint64(us)
	l.mu.Unlock()
}

func (l *Line) DisableIRQ() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.irqDepth
	l.irqDepth++
	if l.irqDepth > l.MaxIRQNested {
		l.MaxIRQNested = l.irqDepth
	}
	return uintptr(prev)
}

func (l *Line) RestoreIRQ(state uintptr) {
	l.mu.Lock()
	l.irqDepth = int(state)
	l.mu.Unlock()
}

// IRQDisabled reports whether the master is inside a critical section.
func (l *Line) IRQDisabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.irqDepth > 0
}
