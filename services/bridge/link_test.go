package bridge

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
)

func TestLinkReadWriteAcrossControllers(t *testing.T) {
	a, b := newUnit(t, "fv1"), newUnit(t, "fv2")
	md := &multidrop{units: []*unit{a, b}}
	l := NewLink(md.dial(t))
	require.NoError(t, l.Reset())

	v, err := l.Read("fv1", "t0")
	require.NoError(t, err)
	assert.Equal(t, "19.2500", v)
	assert.Equal(t, "fv1", l.Selected())

	v, err = l.Write("fv2", "set/hi", "22.25")
	require.NoError(t, err)
	assert.Equal(t, "22.2500", v)
	lo, hi := b.tab.SetPoints()
	assert.Equal(t, "18.0000", lo.String())
	assert.Equal(t, "22.2500", hi.String())
	_, hiA := a.tab.SetPoints()
	assert.Equal(t, "19.0000", hiA.String(), "only the selected controller acts")

	_, err = l.Read("fv2", "set/lo")
	require.NoError(t, err)
	selects := 0
	for _, s := range md.sent() {
		if strings.HasPrefix(s, "SELECT fv") {
			selects++
		}
	}
	assert.Equal(t, 2, selects, "consecutive commands reuse the selection")

	d, err := l.Help("fv2", "err/crc")
	require.NoError(t, err)
	assert.Equal(t, "Probe CRC errors", d)
}

func TestLinkRegisters(t *testing.T) {
	u := newUnit(t, "fv1")
	l := NewLink((&multidrop{units: []*unit{u}}).dial(t))

	names, err := l.Registers("fv1")
	require.NoError(t, err)
	assert.Equal(t, u.tab.Names(), names)
	assert.Equal(t, "fv1", l.Selected(), "a rejected HELP keeps the selection")
}

func TestLinkErrors(t *testing.T) {
	u := newUnit(t, "fv1")
	md := &multidrop{units: []*unit{u}}
	l := NewLink(md.dial(t))

	_, err := l.Read("fv1", "nope")
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
	assert.Contains(t, err.Error(), "register nope does not exist")
	assert.False(t, IsLinkError(err))

	_, err = l.Write("fv1", "set/lo", "chilly")
	assert.Equal(t, errcode.Rejected, errcode.Of(err))

	u.st.faults.Inc(onewire.FaultShorted)
	_, err = l.Write("fv1", "err/shrt", "4")
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
	v, err := l.Write("fv1", "err/shrt", "1")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestLinkQuotesValues(t *testing.T) {
	u := newUnit(t, "fv1")
	l := NewLink((&multidrop{units: []*unit{u}}).dial(t))

	v, err := l.Write("fv1", "ident", "tank 2")
	require.NoError(t, err)
	assert.Equal(t, "tank 2", v)

	// The unit now answers to the new name only.
	require.NoError(t, l.Reset())
	v, err = l.Read("tank 2", "ident")
	require.NoError(t, err)
	assert.Equal(t, "tank 2", v)
}

func TestLinkScan(t *testing.T) {
	p1, p2 := probe(1), probe(2)
	u := newUnit(t, "fv1", p1, p2)
	l := NewLink((&multidrop{units: []*unit{u}}).dial(t))

	got, err := l.Scan("fv1")
	require.NoError(t, err)
	assert.Equal(t, []onewire.Address{p1, p2}, got)
}

// silent is a line nobody answers on.
type silent struct{}

func (silent) Read([]byte) (int, error)    { return 0, errNoReply }
func (silent) Write(p []byte) (int, error) { return len(p), nil }

func TestLinkTimeout(t *testing.T) {
	l := NewLink(silent{})
	_, err := l.Read("fv9", "t0")
	assert.Equal(t, errcode.Timeout, errcode.Of(err))
	assert.False(t, IsLinkError(err))
	assert.Empty(t, l.Selected())
}

type broken struct{}

func (broken) Read([]byte) (int, error)    { return 0, io.ErrClosedPipe }
func (broken) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestLinkTransportFailure(t *testing.T) {
	l := NewLink(broken{})
	_, err := l.Read("fv1", "t0")
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.True(t, IsLinkError(err))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "fv1", quote("fv1"))
	assert.Equal(t, "''", quote(""))
	assert.Equal(t, "'a b'", quote("a b"))
	assert.Equal(t, `'it'"'"'s'`, quote("it's"))
}
