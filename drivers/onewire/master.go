package onewire

// Standard-speed slot timing in microseconds.
const (
	tResetShortCheck = 20
	tResetLow        = 480
	tPresenceSample  = 64
	tResetRecover    = 480 - tPresenceSample

	tSlotLow     = 2
	tSlotSample  = 13
	tSlotRest    = 43
	tSlotRecover = 10
)

// Master bit-bangs the bus on one GPIO. It is not reentrant and must not be
// used from interrupt context.
type Master struct {
	pin Pin
	clk Clock
}

func NewMaster(pin Pin, clk Clock) *Master {
	pin.Release()
	return &Master{pin: pin, clk: clk}
}

// Reset issues a reset pulse and classifies the answer. A line that reads
// high while driven is reported before the full reset time is spent.
func (m *Master) Reset() ResetResult {
	m.pin.Low()
	m.clk.DelayMicros(tResetShortCheck)
	if m.pin.Get() {
		m.pin.Release()
		return ShortedHigh
	}
	m.clk.DelayMicros(tResetLow - tResetShortCheck)

	st := m.clk.DisableIRQ()
	m.pin.Release()
	m.clk.DelayMicros(tPresenceSample)
	presence := !m.pin.Get()
	m.clk.RestoreIRQ(st)

	m.clk.DelayMicros(tResetRecover)
	if !m.pin.Get() {
		return ShortedLow
	}
	if !presence {
		return NoDevice
	}
	return Presence
}

// BitIO runs one time slot: writes bit and returns the sampled line.
// Writing 1 is how a bit is read.
func (m *Master) BitIO(bit bool) bool {
	st := m.clk.DisableIRQ()
	m.pin.Low()
	m.clk.DelayMicros(tSlotLow)
	if bit {
		m.pin.Release()
	}
	m.clk.DelayMicros(tSlotSample)
	r := m.pin.Get()
	m.clk.DelayMicros(tSlotRest)
	m.pin.Release()
	m.clk.RestoreIRQ(st)
	m.clk.DelayMicros(tSlotRecover)
	return r
}

// SendByte clocks b out LSB first and returns the bits read back.
func (m *Master) SendByte(b byte) byte {
	return sendByte(m, b)
}

func (m *Master) RecvByte() byte { return m.SendByte(0xFF) }

func sendByte(t Transport, b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r >>= 1
		if t.BitIO(b&0x01 != 0) {
			r |= 0x80
		}
		b >>= 1
	}
	return r
}
