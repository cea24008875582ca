package bridge

import (
	"bufio"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/services/command"
	"fvcontroller-go/services/registers"
	"fvcontroller-go/types"
)

// unit is one simulated controller: a register table and its command handler.
type unit struct {
	tab *registers.Table
	st  *unitStatus
	h   *command.Handler
}

type unitStatus struct {
	mu     sync.Mutex
	t0     types.Reading
	faults onewire.Faults
}

func (u *unitStatus) Temperature(slot int) types.Reading {
	u.mu.Lock()
	defer u.mu.Unlock()
	if slot == 0 {
		return u.t0
	}
	return types.Reading{}
}
func (u *unitStatus) Observed() types.ValveObserved { return types.ObservedOpen }
func (u *unitStatus) Alarms() types.Alarm           { return 0 }
func (u *unitStatus) Faults() *onewire.Faults       { return &u.faults }

type scanList []onewire.Address

func (s scanList) Scan(dst []onewire.Address) (int, error) { return copy(dst, s), nil }

func newUnit(t *testing.T, ident string, probes ...onewire.Address) *unit {
	t.Helper()
	tab := registers.NewTable(registers.NewMemBlock(registers.BlockSize), "2.0", nil)
	_, err := tab.SeedDefaults(ident)
	require.NoError(t, err)
	st := &unitStatus{t0: types.ValidReading(types.Degrees(19, 2500))}
	tab.Bind(st)
	return &unit{tab: tab, st: st, h: &command.Handler{Table: tab, Scanner: scanList(probes)}}
}

// multidrop wires units to one end of a pipe the way controllers share an
// RS485 pair: every unit sees every line, only the selected one answers.
type multidrop struct {
	mu    sync.Mutex
	units []*unit
	lines []string
}

func (m *multidrop) serve(c net.Conn) {
	sc := bufio.NewScanner(c)
	for sc.Scan() {
		m.mu.Lock()
		m.lines = append(m.lines, sc.Text())
		units := m.units
		m.mu.Unlock()
		for _, u := range units {
			u.h.Handle(sc.Text(), c)
		}
	}
}

func (m *multidrop) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// dial returns the host end of a fresh line served by m.
func (m *multidrop) dial(t *testing.T) net.Conn {
	host, dev := net.Pipe()
	go m.serve(dev)
	t.Cleanup(func() { host.Close(); dev.Close() })
	return host
}

func probe(serial byte) onewire.Address {
	a := onewire.Address{0x28, serial, 0x11, 0x22, 0, 0, 0}
	a[7] = onewire.CRC8(a[:7])
	return a
}
