// Package ds2482 drives a DS2482-100 I²C to 1-Wire bridge as a
// onewire.Transport, for boards where the probe bus hangs off I²C instead of
// a spare GPIO.
//
// The chip does the slot timing itself, so no critical sections are needed on
// the host side. I²C errors are persistent: once one occurs every later call
// reports NoDevice or all-ones until a new Dev is made; Err returns the cause.
package ds2482

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"

	"fvcontroller-go/drivers/onewire"
)

// Addresses selectable with the AD pins.
const (
	Address0 = 0x18
	Address1 = 0x19
	Address2 = 0x1A
	Address3 = 0x1B
)

const (
	cmdReset       = 0xF0
	cmdSetReadPtr  = 0xE1
	cmdWriteConfig = 0xD2
	cmd1WReset     = 0xB4
	cmd1WBit       = 0x87
	cmd1WWrite     = 0xA5
	cmd1WRead      = 0x96

	regStatus = 0xF0
	regData   = 0xE1

	statusBusy     = 0x01 // 1WB
	statusPresence = 0x02 // PPD
	statusShort    = 0x04 // SD
	statusBit      = 0x20 // SBR

	statusAfterReset = 0x18
	configActivePull = 0xE1 // APU set, upper nibble is the complement
)

var (
	ErrBadStatus = errors.New("ds2482: unexpected status after reset")
	ErrConfig    = errors.New("ds2482: config write not acknowledged")
	ErrTimeout   = errors.New("ds2482: timeout waiting for 1-wire idle")
)

// Config is optional.
type Config struct {
	// Address defaults to Address0.
	Address uint16
	// IdleTimeout bounds each wait for the 1-wire side. Default 3 ms.
	IdleTimeout time.Duration
}

// Dev implements onewire.Transport.
type Dev struct {
	bus     drivers.I2C
	addr    uint16
	timeout time.Duration
	err     error
	buf     [2]byte
}

var _ onewire.Transport = (*Dev)(nil)

var (
	sleep = time.Sleep
	now   = time.Now
)

// New resets the chip, checks its status and enables the active pull-up.
func New(bus drivers.I2C, cfg Config) (*Dev, error) {
	d := &Dev{bus: bus, addr: cfg.Address, timeout: cfg.IdleTimeout}
	if d.addr == 0 {
		d.addr = Address0
	}
	if d.timeout <= 0 {
		d.timeout = 3 * time.Millisecond
	}
	if err := d.bus.Tx(d.addr, []byte{cmdReset}, nil); err != nil {
		return nil, err
	}
	var st [1]byte
	if err := d.bus.Tx(d.addr, []byte{cmdSetReadPtr, regStatus}, st[:]); err != nil {
		return nil, err
	}
	if st[0] != statusAfterReset {
		return nil, ErrBadStatus
	}
	var cfgBack [1]byte
	if err := d.bus.Tx(d.addr, []byte{cmdWriteConfig, configActivePull}, cfgBack[:]); err != nil {
		return nil, err
	}
	// Only the low nibble reads back.
	if cfgBack[0] != configActivePull&0x0F {
		return nil, ErrConfig
	}
	return d, nil
}

// Err is the I²C error of the current transaction, if any. It holds until
// the next Reset.
func (d *Dev) Err() error { return d.err }

func (d *Dev) tx(w, r []byte) {
	if d.err != nil {
		return
	}
	d.err = d.bus.Tx(d.addr, w, r)
}

// waitIdle polls the status register until the 1-wire side is idle.
func (d *Dev) waitIdle() byte {
	deadline := now().Add(d.timeout)
	for {
		var st [1]byte
		d.tx(nil, st[:])
		if d.err != nil {
			return 0
		}
		if st[0]&statusBusy == 0 {
			return st[0]
		}
		if now().After(deadline) {
			d.err = ErrTimeout
			return 0
		}
		sleep(d.timeout / 30)
	}
}

// Reset reports ShortedLow from the SD flag. The chip cannot see a short to
// supply; that shows up as NoDevice.
func (d *Dev) Reset() onewire.ResetResult {
	// Every transaction starts here, so an earlier failure only costs that one.
	d.err = nil
	d.tx([]byte{cmd1WReset}, nil)
	st := d.waitIdle()
	switch {
	case d.err != nil:
		return onewire.NoDevice
	case st&statusShort != 0:
		return onewire.ShortedLow
	case st&statusPresence == 0:
		return onewire.NoDevice
	}
	return onewire.Presence
}

func (d *Dev) BitIO(bit bool) bool {
	d.buf[0] = cmd1WBit
	d.buf[1] = 0
	if bit {
		d.buf[1] = 0x80
	}
	d.tx(d.buf[:2], nil)
	st := d.waitIdle()
	if d.err != nil {
		return true
	}
	return st&statusBit != 0
}

// SendByte writes b. The chip does not return the bits seen on the wire for
// a write, so 0xFF is routed through RecvByte and anything else echoes b.
func (d *Dev) SendByte(b byte) byte {
	if b == 0xFF {
		return d.RecvByte()
	}
	d.buf[0], d.buf[1] = cmd1WWrite, b
	d.tx(d.buf[:2], nil)
	d.waitIdle()
	return b
}

func (d *Dev) RecvByte() byte {
	d.tx([]byte{cmd1WRead}, nil)
	d.waitIdle()
	var r [1]byte
	d.tx([]byte{cmdSetReadPtr, regData}, r[:])
	if d.err != nil {
		return 0xFF
	}
	return r[0]
}
