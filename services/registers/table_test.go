package registers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
	"fvcontroller-go/types"
)

type fakeStatus struct {
	temps  [4]types.Reading
	obs    types.ValveObserved
	alarms types.Alarm
	faults onewire.Faults
}

func (f *fakeStatus) Temperature(slot int) types.Reading { return f.temps[slot] }
func (f *fakeStatus) Observed() types.ValveObserved      { return f.obs }
func (f *fakeStatus) Alarms() types.Alarm                { return f.alarms }
func (f *fakeStatus) Faults() *onewire.Faults            { return &f.faults }

type fakePin struct{ on bool }

func (p *fakePin) Set(v bool) { p.on = v }
func (p *fakePin) Get() bool  { return p.on }

func newTable(t *testing.T) (*Table, *fakeStatus, *MemBlock) {
	t.Helper()
	blk := NewMemBlock(BlockSize)
	tab := NewTable(blk, "1.2.0", &fakePin{})
	st := &fakeStatus{}
	tab.Bind(st)
	return tab, st, blk
}

func probeAddr(serial byte) onewire.Address {
	a := onewire.Address{0x28, serial, 0, 0, 0, 0, 0}
	a[7] = onewire.CRC8(a[:7])
	return a
}

func TestErasedBlockDefaults(t *testing.T) {
	tab, _, _ := newTable(t)

	lo, hi := tab.SetPoints()
	assert.Equal(t, DefaultLow, lo)
	assert.Equal(t, DefaultHigh, hi)
	assert.Equal(t, types.SpringReturn, tab.Topology())
	_, ok := tab.ProbeAddress(0)
	assert.False(t, ok)
	_, _, ok = tab.AlarmLimits()
	assert.False(t, ok)

	v, err := tab.Read("t0/id")
	require.NoError(t, err)
	assert.Equal(t, "none", v)
	v, _ = tab.Read("alarm/lo")
	assert.Equal(t, "none", v)
	v, _ = tab.Read("flashcnt")
	assert.Equal(t, "0", v)
}

func TestSeedDefaults(t *testing.T) {
	tab, _, _ := newTable(t)

	wrote, err := tab.SeedDefaults("fv1")
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, "fv1", tab.Ident())
	v, _ := tab.Read("set/lo")
	assert.Equal(t, "18.0000", v)

	_, err = tab.Write("set/hi", "20.5")
	require.NoError(t, err)
	wrote, err = tab.SeedDefaults("other")
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, "fv1", tab.Ident())
	v, _ = tab.Read("set/hi")
	assert.Equal(t, "20.5000", v)
}

func TestWriteReadsBack(t *testing.T) {
	tab, _, _ := newTable(t)
	a := probeAddr(0x42)

	got, err := tab.Write("t0/id", a.String())
	require.NoError(t, err)
	assert.Equal(t, a.String(), got)
	pa, ok := tab.ProbeAddress(0)
	require.True(t, ok)
	assert.Equal(t, a, pa)

	got, err = tab.Write("set/lo", "-1.5")
	require.NoError(t, err)
	assert.Equal(t, "-1.5000", got)

	got, err = tab.Write("valve", "2")
	require.NoError(t, err)
	assert.Equal(t, "ball-fb", got)
	assert.Equal(t, types.BallWithFeedback, tab.Topology())

	got, err = tab.Write("bl", "on")
	require.NoError(t, err)
	assert.Equal(t, "on", got)

	v, _ := tab.Read("flashcnt")
	assert.Equal(t, "3", v)
}

func TestWriteRejections(t *testing.T) {
	tab, _, _ := newTable(t)

	bad := probeAddr(1)
	bad[7] ^= 0xFF
	cases := []struct {
		reg, val string
		code     errcode.Code
	}{
		{"t0/id", bad.String(), errcode.InvalidValue},
		{"t0/id", "nothex", errcode.InvalidValue},
		{"set/lo", "warm", errcode.InvalidValue},
		{"set/lo", "none", errcode.InvalidValue},
		{"set/hi", "1.23456", errcode.InvalidValue},
		{"valve", "butterfly", errcode.InvalidValue},
		{"ident", "a-name-much-too-long", errcode.InvalidValue},
		{"ver", "9", errcode.ReadOnly},
		{"t0", "20", errcode.ReadOnly},
		{"flashcnt", "0", errcode.ReadOnly},
		{"bl", "dim", errcode.InvalidValue},
		{"nope", "1", errcode.UnknownRegister},
	}
	for _, c := range cases {
		_, err := tab.Write(c.reg, c.val)
		assert.Equal(t, c.code, errcode.Of(err), "%s=%s", c.reg, c.val)
	}
	v, _ := tab.Read("flashcnt")
	assert.Equal(t, "0", v, "rejected writes must not touch NV")
}

func TestClearingProbeAndAlarmLimits(t *testing.T) {
	tab, _, _ := newTable(t)
	_, err := tab.Write("t1/id", probeAddr(7).String())
	require.NoError(t, err)
	_, err = tab.Write("t1/id", "none")
	require.NoError(t, err)
	_, ok := tab.ProbeAddress(1)
	assert.False(t, ok)

	_, err = tab.Write("alarm/hi", "25")
	require.NoError(t, err)
	lo, hi, ok := tab.AlarmLimits()
	require.True(t, ok)
	assert.Equal(t, types.Degrees(25, 0), hi)
	assert.Less(t, int64(lo), int64(types.Degrees(-200, 0)), "unset low side stays open")

	_, err = tab.Write("alarm/hi", "none")
	require.NoError(t, err)
	_, _, ok = tab.AlarmLimits()
	assert.False(t, ok)
}

func TestLiveRegisters(t *testing.T) {
	tab, st, _ := newTable(t)
	st.temps[0] = types.ValidReading(types.Degrees(21, 625))
	st.obs = types.ObservedOpening
	st.alarms = types.AlarmTooHigh | types.AlarmValveStuck

	v, _ := tab.Read("t0")
	assert.Equal(t, "21.0625", v)
	v, _ = tab.Read("t3")
	assert.Equal(t, "none", v)
	v, _ = tab.Read("v0")
	assert.Equal(t, "Opening", v)
	v, _ = tab.Read("alarm")
	assert.Equal(t, "Temperature high", v)
}

func TestFaultAcknowledge(t *testing.T) {
	tab, st, _ := newTable(t)
	for i := 0; i < 3; i++ {
		st.faults.Inc(onewire.FaultBadCRC)
	}
	v, _ := tab.Read("err/crc")
	assert.Equal(t, "3", v)

	_, err := tab.Write("err/crc", "5")
	assert.Equal(t, errcode.AckExceedsCount, errcode.Of(err))
	v, _ = tab.Read("err/crc")
	assert.Equal(t, "3", v)

	got, err := tab.Write("err/crc", "2")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	_, err = tab.Write("err/crc", "-1")
	assert.Equal(t, errcode.InvalidValue, errcode.Of(err))
}

func TestNamesOrderAndBacklightOptional(t *testing.T) {
	tab, _, _ := newTable(t)
	names := tab.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, "ident", names[0])
	assert.Contains(t, names, "jog/hi")
	assert.Equal(t, "bl", names[len(names)-1])

	bare := NewTable(NewMemBlock(BlockSize), "x", nil)
	_, ok := bare.Lookup("bl")
	assert.False(t, ok)
	v, _ := bare.Read("t0")
	assert.Equal(t, "none", v, "unbound live registers read as none")
}

func TestTablePersistsAcrossInstances(t *testing.T) {
	tab, _, blk := newTable(t)
	_, err := tab.Write("jog/lo", "10")
	require.NoError(t, err)

	again := NewTable(blk, "1.2.0", nil)
	lo, _, ok := again.JogLimits()
	require.True(t, ok)
	assert.Equal(t, types.Degrees(10, 0), lo)
}

func TestSetPointsNearZero(t *testing.T) {
	tab, _, _ := newTable(t)
	for _, c := range []struct {
		reg, val, want string
	}{
		{"set/lo", "-0.0625", "-0.0625"},
		{"set/lo", "-1.5", "-1.5000"},
		{"set/hi", "0", "0.0000"},
		{"alarm/lo", "-0.0002", "-0.0002"},
	} {
		got, err := tab.Write(c.reg, c.val)
		require.NoError(t, err, "%s=%s", c.reg, c.val)
		assert.Equal(t, c.want, got)
		v, _ := tab.Read(c.reg)
		assert.Equal(t, c.want, v)
	}

	// -0.0001 is stored as all ones, which reads back as unset.
	for _, reg := range []string{"set/lo", "set/hi", "alarm/lo", "jog/hi"} {
		_, err := tab.Write(reg, "-0.0001")
		assert.Equal(t, errcode.InvalidValue, errcode.Of(err), reg)
	}
	lo, _ := tab.SetPoints()
	assert.Equal(t, types.Degrees(-1, 5000), lo, "a rejected write keeps the old value")
}

// countFails refuses writes to the flash counter.
type countFails struct{ *MemBlock }

func (b countFails) WriteAt(p []byte, off int64) (int, error) {
	if off == offFlashCnt {
		return 0, errors.New("worn out")
	}
	return b.MemBlock.WriteAt(p, off)
}

func TestWriteSurvivesFlashCountFailure(t *testing.T) {
	tab := NewTable(countFails{NewMemBlock(BlockSize)}, "1.2.0", nil)

	got, err := tab.Write("set/hi", "21.5")
	require.NoError(t, err)
	assert.Equal(t, "21.5000", got)
	_, hi := tab.SetPoints()
	assert.Equal(t, types.Degrees(21, 5000), hi)

	v, _ := tab.Read("flashcnt")
	assert.Equal(t, "0", v)
}
