package onewire

import (
	"strconv"
	"sync/atomic"

	"fvcontroller-go/errcode"
	"fvcontroller-go/types"
	"fvcontroller-go/x/mathx"
)

type FaultKind uint8

const (
	FaultMissing FaultKind = iota
	FaultShorted
	FaultBadCRC
	FaultNoPower
	numFaultKinds
)

// FaultMax is where counters stick.
const FaultMax = 255

func (k FaultKind) String() string {
	switch k {
	case FaultMissing:
		return "miss"
	case FaultShorted:
		return "shrt"
	case FaultBadCRC:
		return "crc"
	case FaultNoPower:
		return "pwr"
	}
	return "unknown"
}

// Faults holds saturating counters. Each update is a single CAS so increments
// from any goroutine or interrupt never race an acknowledgement.
type Faults struct {
	c [numFaultKinds]atomic.Uint32
}

// Inc adds one, sticking at FaultMax.
func (f *Faults) Inc(k FaultKind) {
	c := &f.c[k]
	for {
		old := c.Load()
		nv := mathx.SatAdd[uint32](old, 1, FaultMax)
		if nv == old || c.CompareAndSwap(old, nv) {
			return
		}
	}
}

func (f *Faults) Get(k FaultKind) uint8 { return uint8(f.c[k].Load()) }

// Ack subtracts n. If n exceeds the current value nothing changes and
// errcode.AckExceedsCount is returned.
func (f *Faults) Ack(k FaultKind, n uint32) error {
	c := &f.c[k]
	for {
		old := c.Load()
		if n > old {
			return &errcode.E{
				C:   errcode.AckExceedsCount,
				Op:  "ack " + k.String(),
				Msg: strconv.FormatUint(uint64(n), 10) + " > " + strconv.FormatUint(uint64(old), 10),
			}
		}
		if c.CompareAndSwap(old, old-n) {
			return nil
		}
	}
}

func (f *Faults) Snapshot() types.FaultCounts {
	return types.FaultCounts{
		Missing: f.Get(FaultMissing),
		Shorted: f.Get(FaultShorted),
		BadCRC:  f.Get(FaultBadCRC),
		NoPower: f.Get(FaultNoPower),
	}
}
