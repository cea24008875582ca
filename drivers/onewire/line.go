// Package onewire drives a Dallas/Maxim one-wire bus: reset and bit slots,
// CRC-8, ROM search and the fault counters fed by bus resets.
package onewire

// Pin is an open-drain line. Low drives it; Release lets the pull-up win.
type Pin interface {
	Low()
	Release()
	Get() bool
}

// Clock supplies busy-wait delays and an interrupt-masking critical section.
type Clock interface {
	DelayMicros(us uint32)
	DisableIRQ() uintptr
	RestoreIRQ(state uintptr)
}

// ResetResult classifies a bus reset.
type ResetResult uint8

const (
	Presence ResetResult = iota
	NoDevice
	ShortedLow
	ShortedHigh
)

func (r ResetResult) String() string {
	switch r {
	case Presence:
		return "presence"
	case NoDevice:
		return "no_device"
	case ShortedLow:
		return "shorted_low"
	case ShortedHigh:
		return "shorted_high"
	}
	return "unknown"
}

// Transport is the bit/byte layer shared by the bit-banged master and bridge chips.
// Only Reset classifies faults; bit and byte operations assume a prior Presence.
type Transport interface {
	Reset() ResetResult
	BitIO(bit bool) bool
	SendByte(b byte) byte
	RecvByte() byte
}

// ROM and function commands.
const (
	CmdSearchROM byte = 0xF0
	CmdMatchROM  byte = 0x55
	CmdSkipROM   byte = 0xCC
)
