// Package platform assembles the hardware a controller runs on: the probe
// bus, valve relays, indicator lines, the RS485 console and the settings
// block. On a host it builds a simulated board instead.
package platform

import (
	"io"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/drivers/valve"
)

// Line is a digital output that reads back its last level.
type Line interface {
	Set(on bool)
	Get() bool
}

// Block is the persistent settings area.
type Block interface {
	io.ReaderAt
	io.WriterAt
}

type Board struct {
	Name string

	OneWire  onewire.Transport
	Coils    valve.Coils
	Feedback valve.Feedback

	LED       Line
	Backlight Line // nil without a display

	Console  io.ReadWriter
	Transmit func(on bool)

	NV Block
}
