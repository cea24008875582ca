package onewire

import "fvcontroller-go/errcode"

// Bus is a Transport plus the fault counters its resets feed.
type Bus struct {
	t         Transport
	faults    *Faults
	lastReset ResetResult
}

func NewBus(t Transport, f *Faults) *Bus {
	if f == nil {
		f = &Faults{}
	}
	return &Bus{t: t, faults: f}
}

func (b *Bus) Transport() Transport { return b.t }
func (b *Bus) Faults() *Faults      { return b.faults }

// LastReset is the classification of the most recent Reset.
func (b *Bus) LastReset() ResetResult { return b.lastReset }

// Reset resets the line and counts missing and shorted outcomes.
func (b *Bus) Reset() ResetResult {
	r := b.t.Reset()
	b.lastReset = r
	switch r {
	case NoDevice:
		b.faults.Inc(FaultMissing)
	case ShortedLow, ShortedHigh:
		b.faults.Inc(FaultShorted)
	}
	return r
}

func (b *Bus) SendByte(v byte) byte { return b.t.SendByte(v) }
func (b *Bus) RecvByte() byte       { return b.t.RecvByte() }

// Read fills p from the bus.
func (b *Bus) Read(p []byte) {
	for i := range p {
		p[i] = b.t.RecvByte()
	}
}

// Select addresses one device. Call after a Presence reset.
func (b *Bus) Select(a Address) {
	b.t.SendByte(CmdMatchROM)
	for _, v := range a {
		b.t.SendByte(v)
	}
}

// SkipROM addresses every device at once.
func (b *Bus) SkipROM() { b.t.SendByte(CmdSkipROM) }

// ResetError maps a non-Presence reset to its code.
func ResetError(r ResetResult) error {
	switch r {
	case NoDevice:
		return errcode.NoDevice
	case ShortedLow:
		return errcode.ShortedLow
	case ShortedHigh:
		return errcode.ShortedHigh
	}
	return nil
}
