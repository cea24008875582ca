// Package ds18b20 reads DS18B20 thermometers on a onewire.Bus.
//
// Conversion and readout are separate so one broadcast serves every probe:
//
//	ds18b20.StartConversion(bus)         // skip ROM + convert, returns at once
//	r := ds18b20.ReadTemperature(bus, a) // at least ConversionTime later
//
// Readings are fixed-point (types.Temperature); no floating point is used.
package ds18b20

import (
	"time"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
	"fvcontroller-go/types"
)

// Family is the ROM family code.
const Family = 0x28

const (
	cmdConvert        = 0x44
	cmdReadScratchpad = 0xBE
)

// ConversionTime is the worst case at 12-bit resolution.
const ConversionTime = 750 * time.Millisecond

// Power-on scratchpad signature: 85 °C with the reset value in byte 6.
const (
	powerOnRaw     = 0x0550
	powerOnByte5   = 0xFF
	powerOnRemain  = 0x0C
	scratchpadSize = 9
)

// Scratchpad is the raw 9-byte frame, CRC last.
type Scratchpad [scratchpadSize]byte

// Valid checks the CRC. An all-zero frame, as read from a line held low,
// also checks to zero and is rejected.
func (s *Scratchpad) Valid() bool {
	return onewire.CRC8(s[:]) == 0 && *s != Scratchpad{}
}

// Raw is the signed 1/16 °C count.
func (s *Scratchpad) Raw() int16 { return int16(uint16(s[1])<<8 | uint16(s[0])) }

func (s *Scratchpad) Temperature() types.Temperature {
	return types.Temperature(int32(s.Raw()) * types.RawLSB)
}

// PowerOn reports the value a sensor holds before its first conversion.
func (s *Scratchpad) PowerOn() bool {
	return s.Raw() == powerOnRaw && s[5] == powerOnByte5 && s[6] == powerOnRemain
}

// StartConversion broadcasts a convert command. It does not wait.
func StartConversion(b *onewire.Bus) bool {
	if b.Reset() != onewire.Presence {
		return false
	}
	b.SkipROM()
	b.SendByte(cmdConvert)
	return true
}

// ReadScratchpad reads one device's frame into sp. A bad CRC counts as a
// BadCRC fault.
func ReadScratchpad(b *onewire.Bus, a onewire.Address, sp *Scratchpad) error {
	if r := b.Reset(); r != onewire.Presence {
		return onewire.ResetError(r)
	}
	b.Select(a)
	b.SendByte(cmdReadScratchpad)
	b.Read(sp[:])
	if !sp.Valid() {
		b.Faults().Inc(onewire.FaultBadCRC)
		return errcode.BadCRC
	}
	return nil
}

// ReadTemperature returns a valid reading only for a CRC-checked frame that
// holds a real conversion result.
func ReadTemperature(b *onewire.Bus, a onewire.Address) types.Reading {
	var sp Scratchpad
	if err := ReadScratchpad(b, a, &sp); err != nil {
		return types.Reading{}
	}
	if sp.PowerOn() {
		b.Faults().Inc(onewire.FaultNoPower)
		return types.Reading{}
	}
	return types.ValidReading(sp.Temperature())
}
