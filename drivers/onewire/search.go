package onewire

import "fvcontroller-go/errcode"

// Search cursor values. A cursor is otherwise the 1-based bit position of the
// next discrepancy to branch on.
const (
	SearchStart uint8 = 0xFF // explore everything
	SearchNone  uint8 = 0xFF // no device found; same value, so feeding it back restarts
	SearchDone  uint8 = 0    // the address returned was the last one
)

// MaxDevices bounds an enumeration pass.
const MaxDevices = 10

// Search runs one ROM search pass and leaves the found address in addr.
// At a discrepancy below cursor it repeats the branch already in addr, at
// cursor it takes 1, above cursor it takes 0. It returns the position of the
// last 0 taken at a discrepancy, SearchDone when there was none, or SearchNone
// on a failed reset, an unanswered bit pair or a bad CRC.
func (b *Bus) Search(cursor uint8, addr *Address) uint8 {
	if cursor == SearchStart {
		cursor = 0
	}
	if b.Reset() != Presence {
		return SearchNone
	}
	b.t.SendByte(CmdSearchROM)

	next := SearchDone
	for p := uint8(1); p <= 64; p++ {
		id := b.t.BitIO(true)
		cmp := b.t.BitIO(true)
		var dir bool
		switch {
		case id && cmp:
			return SearchNone
		case id != cmp:
			dir = id
		case p < cursor:
			dir = addr.bit(p)
		case p == cursor:
			dir = true
		default:
			dir = false
		}
		if id == cmp && !dir {
			next = p
		}
		addr.setBit(p, dir)
		b.t.BitIO(dir)
	}
	if !addr.Valid() {
		return SearchNone
	}
	return next
}

// Scan enumerates the bus into dst and returns how many devices answered,
// capped at MaxDevices. Devices beyond len(dst) are counted but not stored.
// An empty bus is (0, nil). A short reports its errcode; a pass that breaks
// down part way reports errcode.SearchFailed and no devices.
func (b *Bus) Scan(dst []Address) (int, error) {
	var a Address
	cursor := SearchStart
	for n := 0; n < MaxDevices; {
		cursor = b.Search(cursor, &a)
		if cursor == SearchNone {
			if n == 0 {
				switch b.lastReset {
				case NoDevice:
					return 0, nil
				case ShortedLow, ShortedHigh:
					return 0, ResetError(b.lastReset)
				}
			}
			return 0, errcode.SearchFailed
		}
		if n < len(dst) {
			dst[n] = a
		}
		n++
		if cursor == SearchDone {
			return n, nil
		}
	}
	return MaxDevices, nil
}

// Count re-runs the search and returns the number of devices.
func (b *Bus) Count() (int, error) { return b.Scan(nil) }

// AddressAt returns the i-th device in search order.
func (b *Bus) AddressAt(i int) (Address, bool) {
	var a Address
	cursor := SearchStart
	for n := 0; n < MaxDevices; n++ {
		cursor = b.Search(cursor, &a)
		if cursor == SearchNone {
			return Address{}, false
		}
		if n == i {
			return a, true
		}
		if cursor == SearchDone {
			break
		}
	}
	return Address{}, false
}
