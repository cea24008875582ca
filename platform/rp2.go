//go:build rp2040 || rp2350

package platform

import (
	"context"
	"errors"
	"machine"
	"runtime/interrupt"
	"sync"
	"time"

	"fvcontroller-go/drivers/ds2482"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/drivers/valve"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// NVSize is the shadowed part of the flash data area.
const NVSize = 0x100

// Open configures the pins named by SelectedPlan.
func Open(_ context.Context) (*Board, error) {
	p := SelectedPlan
	b := &Board{Name: "rp2"}

	if p.DS2482 != nil {
		i2c, err := openI2C(*p.DS2482)
		if err != nil {
			return nil, err
		}
		dev, err := ds2482.New(i2c, ds2482.Config{})
		if err != nil {
			return nil, err
		}
		b.OneWire = dev
	} else {
		pin := owPin{machine.Pin(p.OneWire)}
		pin.Release()
		b.OneWire = onewire.NewMaster(pin, clock{})
	}

	b.Coils = valve.Coils{
		ASet:   coil(p.CoilASet),
		AReset: coil(p.CoilAReset),
		BSet:   coil(p.CoilBSet),
		BReset: coil(p.CoilBReset),
	}
	b.Feedback = valve.Feedback{
		Open:   input(p.FeedbackOpen),
		Closed: input(p.FeedbackClosed),
	}
	if l := output(p.LED); l != nil {
		b.LED = l
	}
	if l := output(p.Backlight); l != nil {
		b.Backlight = l
	}

	hw, err := openUART(p.Console)
	if err != nil {
		return nil, err
	}
	b.Console = &console{u: hw}
	if de := output(p.TxEnable); de != nil {
		b.Transmit = de.Set
	} else {
		b.Transmit = func(bool) {}
	}

	b.NV = &flashBlock{}
	return b, nil
}

// ---- one-wire line ----

// owPin drives the line open-drain: low is an output, high is the pull-up.
type owPin struct{ p machine.Pin }

func (o owPin) Low() {
	o.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	o.p.Low()
}

func (o owPin) Release()  { o.p.Configure(machine.PinConfig{Mode: machine.PinInputPullup}) }
func (o owPin) Get() bool { return o.p.Get() }

type clock struct{}

// DelayMicros spins on the system timer, which keeps counting with
// interrupts masked.
func (clock) DelayMicros(us uint32) {
	d := time.Duration(us) * time.Microsecond
	start := time.Now()
	for time.Since(start) < d {
	}
}

func (clock) DisableIRQ() uintptr      { return uintptr(interrupt.Disable()) }
func (clock) RestoreIRQ(state uintptr) { interrupt.Restore(interrupt.State(state)) }

// ---- GPIO ----

type outLine struct {
	p  machine.Pin
	on bool
}

func output(n int) *outLine {
	if n < 0 {
		return nil
	}
	l := &outLine{p: machine.Pin(n)}
	l.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	l.p.Low()
	return l
}

func coil(n int) valve.Output {
	if l := output(n); l != nil {
		return l
	}
	return nil
}

func (l *outLine) Set(on bool) { l.on = on; l.p.Set(on) }
func (l *outLine) Get() bool   { return l.on }

// activeLow reads a switch to ground.
type activeLow struct{ p machine.Pin }

func input(n int) valve.Input {
	if n < 0 {
		return nil
	}
	p := machine.Pin(n)
	p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return activeLow{p}
}

func (a activeLow) Get() bool { return !a.p.Get() }

// ---- buses ----

var errNoPeripheral = errors.New("platform: unknown peripheral")

func openI2C(p I2CPlan) (*machine.I2C, error) {
	var hw *machine.I2C
	switch p.ID {
	case "i2c0":
		hw = machine.I2C0
	case "i2c1":
		hw = machine.I2C1
	default:
		return nil, errNoPeripheral
	}
	sda := machine.Pin(p.SDA)
	scl := machine.Pin(p.SCL)
	sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
	scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
	if err := hw.Configure(machine.I2CConfig{SCL: scl, SDA: sda, Frequency: p.Hz}); err != nil {
		return nil, err
	}
	return hw, nil
}

func openUART(u UARTPlan) (*uartx.UART, error) {
	var hw *uartx.UART
	switch u.ID {
	case "uart0":
		hw = uartx.UART0
	case "uart1":
		hw = uartx.UART1
	default:
		return nil, errNoPeripheral
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: u.Baud,
		TX:       machine.Pin(u.TX),
		RX:       machine.Pin(u.RX),
	}); err != nil {
		return nil, err
	}
	return hw, nil
}

// console adapts uartx to io.ReadWriter. Read blocks until at least one
// byte arrives.
type console struct{ u *uartx.UART }

func (c *console) Read(p []byte) (int, error) {
	return c.u.RecvSomeContext(context.Background(), p)
}

func (c *console) Write(p []byte) (int, error) { return c.u.Write(p) }

// ---- settings ----

// flashBlock keeps a RAM copy of the first write page of the flash data
// area and rewrites the erase block on every write.
type flashBlock struct {
	mu     sync.Mutex
	loaded bool
	shadow [NVSize]byte
}

func (f *flashBlock) load() error {
	if f.loaded {
		return nil
	}
	if _, err := machine.Flash.ReadAt(f.shadow[:], 0); err != nil {
		return err
	}
	f.loaded = true
	return nil
}

func (f *flashBlock) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > NVSize {
		return 0, errors.New("platform: nv read out of range")
	}
	return copy(p, f.shadow[off:]), nil
}

func (f *flashBlock) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > NVSize {
		return 0, errors.New("platform: nv write out of range")
	}
	copy(f.shadow[off:], p)
	if err := machine.Flash.EraseBlocks(0, 1); err != nil {
		return 0, err
	}
	if _, err := machine.Flash.WriteAt(f.shadow[:], 0); err != nil {
		return 0, err
	}
	return len(p), nil
}
