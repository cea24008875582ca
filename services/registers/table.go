package registers

import (
	"math"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
	"fvcontroller-go/services/thermostat"
	"fvcontroller-go/types"
	"fvcontroller-go/x/conv"
)

// Default set points seeded into an erased block.
var (
	DefaultLow  = types.Degrees(18, 0)
	DefaultHigh = types.Degrees(19, 0)
)

// Status is the live state behind the read-only registers.
type Status interface {
	Temperature(slot int) types.Reading
	Observed() types.ValveObserved
	Alarms() types.Alarm
	Faults() *onewire.Faults
}

// Table is the controller's standard register set. It also serves the
// thermostat its settings straight from NV storage.
type Table struct {
	Registry

	nv     *nvStore
	ident  nvString
	probes [thermostat.MaxProbes]nvAddress
	setLo  nvTemp
	setHi  nvTemp
	alLo   nvTemp
	alHi   nvTemp
	jogLo  nvTemp
	jogHi  nvTemp
	valve  nvTopology

	status Status
}

var (
	_ thermostat.Settings = (*Table)(nil)
	_ thermostat.Limits   = (*Table)(nil)
)

var slotNames = [thermostat.MaxProbes]string{"t0", "t1", "t2", "t3"}

// NewTable lays the registers over b. backlight may be nil on boards
// without one. Call Bind before serving live registers.
func NewTable(b Block, version string, backlight PinLine) *Table {
	s := &nvStore{b: b}
	t := &Table{
		nv:    s,
		ident: nvString{s: s, off: offIdent, n: identLen},
		setLo: nvTemp{s: s, off: offSetLo},
		setHi: nvTemp{s: s, off: offSetHi},
		alLo:  nvTemp{s: s, off: offAlarmLo, clearable: true},
		alHi:  nvTemp{s: s, off: offAlarmHi, clearable: true},
		jogLo: nvTemp{s: s, off: offJogLo, clearable: true},
		jogHi: nvTemp{s: s, off: offJogHi, clearable: true},
		valve: nvTopology{s: s, off: offValve},
	}
	for i := range t.probes {
		t.probes[i] = nvAddress{s: s, off: int64(offProbe + 8*i)}
	}

	t.Add(Register{"ident", "Controller identity", t.ident})
	t.Add(Register{"ver", "Firmware version", Const(version)})
	t.Add(Register{"flashcnt", "NV write count", nvCounter{s: s, off: offFlashCnt}})
	for i, n := range slotNames {
		t.Add(Register{n + "/id", n + " probe ID", t.probes[i]})
	}
	t.Add(Register{"set/lo", "Low set point", t.setLo})
	t.Add(Register{"set/hi", "High set point", t.setHi})
	t.Add(Register{"alarm/lo", "Alarm low set point", t.alLo})
	t.Add(Register{"alarm/hi", "Alarm high set point", t.alHi})
	t.Add(Register{"jog/lo", "Stuck valve low set point", t.jogLo})
	t.Add(Register{"jog/hi", "Stuck valve high set point", t.jogHi})
	t.Add(Register{"valve", "Valve type (spring, ball, ball-fb)", t.valve})

	t.Add(Register{"t0", "Fermenter temperature", t.liveTemp(0)})
	for i := 1; i < thermostat.MaxProbes; i++ {
		t.Add(Register{slotNames[i], slotNames[i] + " temperature", t.liveTemp(i)})
	}
	t.Add(Register{"v0", "v0 Valve status", Live{Read: func() string {
		if t.status == nil {
			return "none"
		}
		return t.status.Observed().String()
	}}})
	t.Add(Register{"alarm", "Alarm", Live{Read: func() string {
		if t.status == nil {
			return "none"
		}
		return t.status.Alarms().String()
	}}})
	t.Add(Register{"err/miss", "Missing probe errors", t.fault(onewire.FaultMissing)})
	t.Add(Register{"err/shrt", "Shorted probe bus errors", t.fault(onewire.FaultShorted)})
	t.Add(Register{"err/crc", "Probe CRC errors", t.fault(onewire.FaultBadCRC)})
	t.Add(Register{"err/pwr", "Probe power errors", t.fault(onewire.FaultNoPower)})
	if backlight != nil {
		t.Add(Register{"bl", "Backlight", Pin{Line: backlight}})
	}
	return t
}

// Bind attaches the live state. It must happen before any goroutine reads
// the table.
func (t *Table) Bind(s Status) { t.status = s }

func (t *Table) liveTemp(slot int) Live {
	return Live{Read: func() string {
		if t.status == nil {
			return "none"
		}
		return t.status.Temperature(slot).String()
	}}
}

// fault reads a counter; writing N acknowledges N events.
func (t *Table) fault(k onewire.FaultKind) Live {
	return Live{
		Read: func() string {
			if t.status == nil {
				return "0"
			}
			var buf [3]byte
			return string(conv.Utoa(buf[:], uint64(t.status.Faults().Get(k))))
		},
		Write: func(v string) error {
			n, ok := conv.Atou(v)
			if !ok {
				return errcode.InvalidValue
			}
			if t.status == nil {
				return errcode.Unsupported
			}
			return t.status.Faults().Ack(k, n)
		},
	}
}

// SeedDefaults fills unset NV fields. It returns true if anything was
// written.
func (t *Table) SeedDefaults(ident string) (bool, error) {
	wrote := false
	seed := func(unset bool, st Storage, v string) error {
		if !unset {
			return nil
		}
		wrote = true
		return st.WriteString(v)
	}
	if err := seed(t.ident.ReadString() == "", t.ident, ident); err != nil {
		return wrote, err
	}
	if err := seed(!t.setLo.get().Valid, t.setLo, DefaultLow.String()); err != nil {
		return wrote, err
	}
	if err := seed(!t.setHi.get().Valid, t.setHi, DefaultHigh.String()); err != nil {
		return wrote, err
	}
	return wrote, nil
}

// Ident is the name SELECT matches against.
func (t *Table) Ident() string { return t.ident.ReadString() }

// ---- thermostat.Settings ----

func (t *Table) ProbeAddress(slot int) (onewire.Address, bool) {
	if slot < 0 || slot >= len(t.probes) {
		return onewire.Address{}, false
	}
	return t.probes[slot].get()
}

// SetPoints falls back to the defaults for an unset point.
func (t *Table) SetPoints() (lo, hi types.Temperature) {
	lo, hi = DefaultLow, DefaultHigh
	if r := t.setLo.get(); r.Valid {
		lo = r.Value
	}
	if r := t.setHi.get(); r.Valid {
		hi = r.Value
	}
	return lo, hi
}

func (t *Table) Topology() types.ValveTopology { return t.valve.get() }

// ---- thermostat.Limits ----

func (t *Table) AlarmLimits() (lo, hi types.Temperature, ok bool) {
	return limits(t.alLo, t.alHi)
}

func (t *Table) JogLimits() (lo, hi types.Temperature, ok bool) {
	return limits(t.jogLo, t.jogHi)
}

// limits leaves an unset side open; both unset disables the pair.
func limits(l, h nvTemp) (lo, hi types.Temperature, ok bool) {
	rl, rh := l.get(), h.get()
	lo, hi = math.MinInt32, math.MaxInt32
	if rl.Valid {
		lo = rl.Value
	}
	if rh.Valid {
		hi = rh.Value
	}
	return lo, hi, rl.Valid || rh.Valid
}
