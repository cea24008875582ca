package onewiresim

import (
	"sync"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/types"
)

const (
	familyDS18B20 = 0x28

	cmdConvert  = 0x44
	cmdReadPad  = 0xBE
	padLen      = 9
	padBits     = padLen * 8
	romBits     = 64
	powerOnLow  = 0x50
	powerOnHigh = 0x05
)

type phase uint8

const (
	phaseROMCmd phase = iota
	phaseSearch
	phaseMatch
	phaseFuncCmd
	phaseSendPad
	phaseIdle // deselected until the next reset
)

// Device is a simulated DS18B20.
type Device struct {
	mu sync.Mutex

	rom     onewire.Address
	pad     [padLen]byte
	pending types.Temperature

	// NoConvert keeps the power-on scratchpad, as when the sensor loses supply.
	NoConvert bool
	// corrupt flips a bit of the next scratchpad sent.
	corrupt bool

	ph     phase
	shift  byte
	nbits  int
	search int // 0 id bit, 1 complement, 2 direction
	sent   [padLen]byte

	Conversions int
}

// NewDS18B20 builds a device with the given 48-bit serial; family and CRC
// bytes are filled in.
func NewDS18B20(serial uint64) *Device {
	d := &Device{}
	d.rom[0] = familyDS18B20
	for i := 1; i < 7; i++ {
		d.rom[i] = byte(serial >> (8 * (i - 1)))
	}
	d.rom[7] = onewire.CRC8(d.rom[:7])
	d.pad = powerOnPad()
	d.ph = phaseIdle
	return d
}

// NewDevice uses a full ROM code as given, bad CRC included.
func NewDevice(rom onewire.Address) *Device {
	return &Device{rom: rom, pad: powerOnPad(), ph: phaseIdle}
}

func powerOnPad() [padLen]byte {
	p := [padLen]byte{powerOnLow, powerOnHigh, 0x4B, 0x46, 0x7F, 0xFF, 0x0C, 0x10}
	p[8] = onewire.CRC8(p[:8])
	return p
}

func (d *Device) Address() onewire.Address { return d.rom }

// SetTemperature sets what the next conversion measures.
func (d *Device) SetTemperature(t types.Temperature) {
	d.mu.Lock()
	d.pending = t
	d.mu.Unlock()
}

// CorruptNext damages one bit of the next scratchpad transfer.
func (d *Device) CorruptNext() {
	d.mu.Lock()
	d.corrupt = true
	d.mu.Unlock()
}

func (d *Device) convert() {
	d.Conversions++
	if d.NoConvert {
		return
	}
	raw := int16(d.pending / types.RawLSB)
	d.pad[0] = byte(raw)
	d.pad[1] = byte(uint16(raw) >> 8)
	d.pad[6] = 0x10 - byte(raw&0x0F)
	d.pad[8] = onewire.CRC8(d.pad[:8])
}

func (d *Device) reset() {
	d.mu.Lock()
	d.ph = phaseROMCmd
	d.shift, d.nbits, d.search = 0, 0, 0
	d.mu.Unlock()
}

// output is the level this device lets the line have during a read slot.
func (d *Device) output() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.ph {
	case phaseSearch:
		b := romBit(d.rom, d.nbits)
		switch d.search {
		case 0:
			return b
		case 1:
			return !b
		}
	case phaseSendPad:
		return d.sent[d.nbits/8]&(1<<(d.nbits%8)) != 0
	}
	return true
}

// slot consumes the line level seen in one time slot.
func (d *Device) slot(bit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.ph {
	case phaseROMCmd:
		if b, ok := d.collect(bit); ok {
			switch b {
			case onewire.CmdSearchROM:
				d.ph = phaseSearch
			case onewire.CmdMatchROM:
				d.ph = phaseMatch
			case onewire.CmdSkipROM:
				d.ph = phaseFuncCmd
			default:
				d.ph = phaseIdle
			}
		}
	case phaseSearch:
		if d.search < 2 {
			d.search++
			return
		}
		d.search = 0
		if bit != romBit(d.rom, d.nbits) {
			d.ph = phaseIdle
			return
		}
		d.nbits++
		if d.nbits == romBits {
			d.ph = phaseIdle
		}
	case phaseMatch:
		if bit != romBit(d.rom, d.nbits) {
			d.ph = phaseIdle
			return
		}
		d.nbits++
		if d.nbits == romBits {
			d.nbits = 0
			d.ph = phaseFuncCmd
		}
	case phaseFuncCmd:
		if b, ok := d.collect(bit); ok {
			switch b {
			case cmdConvert:
				d.convert()
				d.ph = phaseIdle
			case cmdReadPad:
				d.sent = d.pad
				if d.corrupt {
					d.sent[0] ^= 0x04
					d.corrupt = false
				}
				d.ph = phaseSendPad
			default:
				d.ph = phaseIdle
			}
		}
	case phaseSendPad:
		d.nbits++
		if d.nbits == padBits {
			d.ph = phaseIdle
		}
	}
}

func (d *Device) collect(bit bool) (byte, bool) {
	d.shift >>= 1
	if bit {
		d.shift |= 0x80
	}
	d.nbits++
	if d.nbits < 8 {
		return 0, false
	}
	b := d.shift
	d.shift, d.nbits = 0, 0
	return b, true
}

func romBit(a onewire.Address, i int) bool { return a[i/8]&(1<<(i%8)) != 0 }
