package registers

import (
	"encoding/binary"
	"sync"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
	"fvcontroller-go/types"
	"fvcontroller-go/x/conv"
)

// NV block layout. Erased bytes read as unset.
const (
	offIdent    = 0x00
	identLen    = 16
	offProbe    = 0x10 // 8 bytes per slot
	offSetLo    = 0x30
	offSetHi    = 0x34
	offAlarmLo  = 0x38
	offAlarmHi  = 0x3C
	offJogLo    = 0x40
	offJogHi    = 0x44
	offValve    = 0x48
	offFlashCnt = 0x4C

	BlockSize = 0x100
)

// nvStore serialises access to the block and counts writes in flashcnt.
type nvStore struct {
	mu sync.Mutex
	b  Block
}

func (s *nvStore) read(off int64, p []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := s.b.ReadAt(p, off)
	return n == len(p)
}

func (s *nvStore) write(off int64, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.b.WriteAt(p, off); err != nil {
		return errcode.Wrap("nv write", errcode.Error, err)
	}
	// The value is stored; a lost count only skews wear accounting.
	if err := s.countWrite(); err != nil {
		println("[registers] flashcnt:", err.Error())
	}
	return nil
}

func (s *nvStore) countWrite() error {
	var c [4]byte
	if _, err := s.b.ReadAt(c[:], offFlashCnt); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(c[:])
	if n == 0xFFFFFFFF {
		n = 0
	}
	binary.BigEndian.PutUint32(c[:], n+1)
	_, err := s.b.WriteAt(c[:], offFlashCnt)
	return err
}

func (s *nvStore) uint32(off int64) (uint32, bool) {
	var buf [4]byte
	if !s.read(off, buf[:]) || erased(buf[:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[:]), true
}

func erased(p []byte) bool {
	for _, c := range p {
		if c != Erased {
			return false
		}
	}
	return true
}

// ---- storages ----

// nvString is fixed width, NUL padded.
type nvString struct {
	s   *nvStore
	off int64
	n   int
}

func (nvString) Kind() Kind { return KindNV }

func (v nvString) ReadString() string {
	buf := make([]byte, v.n)
	if !v.s.read(v.off, buf) {
		return ""
	}
	for i, c := range buf {
		if c == 0 || c == Erased {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func (v nvString) WriteString(x string) error {
	if len(x) > v.n {
		return errcode.InvalidValue
	}
	buf := make([]byte, v.n)
	copy(buf, x)
	return v.s.write(v.off, buf)
}

// nvTemp is a big-endian int32. Erased or InvalidTemperature reads as unset.
type nvTemp struct {
	s   *nvStore
	off int64
	// clearable allows "none" to be written.
	clearable bool
}

func (nvTemp) Kind() Kind { return KindNV }

func (v nvTemp) get() types.Reading {
	u, ok := v.s.uint32(v.off)
	if !ok || types.Temperature(u) == types.InvalidTemperature {
		return types.Reading{}
	}
	return types.ValidReading(types.Temperature(int32(u)))
}

func (v nvTemp) ReadString() string { return v.get().String() }

func (v nvTemp) WriteString(x string) error {
	t := types.InvalidTemperature
	if x == "none" {
		if !v.clearable {
			return errcode.InvalidValue
		}
	} else {
		var err error
		if t, err = types.ParseTemperature(x); err != nil {
			return errcode.InvalidValue
		}
		// These encodings read back as unset.
		if t == types.InvalidTemperature || uint32(t) == 0xFFFFFFFF {
			return errcode.InvalidValue
		}
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(t))
	return v.s.write(v.off, buf[:])
}

// nvAddress holds a probe ROM code. Only CRC-valid codes are accepted.
type nvAddress struct {
	s   *nvStore
	off int64
}

func (nvAddress) Kind() Kind { return KindNV }

func (v nvAddress) get() (onewire.Address, bool) {
	var a onewire.Address
	if !v.s.read(v.off, a[:]) || erased(a[:]) || !a.Valid() {
		return onewire.Address{}, false
	}
	return a, true
}

func (v nvAddress) ReadString() string {
	if a, ok := v.get(); ok {
		return a.String()
	}
	return "none"
}

func (v nvAddress) WriteString(x string) error {
	var a onewire.Address
	if x != "none" {
		var err error
		if a, err = onewire.ParseAddress(x); err != nil || !a.Valid() {
			return errcode.InvalidValue
		}
	}
	return v.s.write(v.off, a[:])
}

type nvTopology struct {
	s   *nvStore
	off int64
}

func (nvTopology) Kind() Kind { return KindNV }

func (v nvTopology) get() types.ValveTopology {
	var b [1]byte
	if !v.s.read(v.off, b[:]) || b[0] > byte(types.BallWithFeedback) {
		return types.SpringReturn
	}
	return types.ValveTopology(b[0])
}

func (v nvTopology) ReadString() string { return v.get().String() }

func (v nvTopology) WriteString(x string) error {
	t, ok := types.ParseValveTopology(x)
	if !ok {
		return errcode.InvalidValue
	}
	return v.s.write(v.off, []byte{byte(t)})
}

// nvCounter is a read-only uint32.
type nvCounter struct {
	s   *nvStore
	off int64
}

func (nvCounter) Kind() Kind { return KindNV }

func (v nvCounter) ReadString() string {
	n, _ := v.s.uint32(v.off)
	var buf [10]byte
	return string(conv.Utoa(buf[:], uint64(n)))
}

func (nvCounter) WriteString(string) error { return errcode.ReadOnly }
