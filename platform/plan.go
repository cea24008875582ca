package platform

// Plan is the board wiring. Pin numbers are GPIO numbers; -1 means absent.
type Plan struct {
	OneWire int
	// DS2482 replaces the bit-banged line when set.
	DS2482 *I2CPlan

	CoilASet, CoilAReset int
	CoilBSet, CoilBReset int

	// Limit switches pull to ground when made.
	FeedbackOpen, FeedbackClosed int

	LED       int
	Backlight int

	Console UARTPlan
	// TxEnable drives the RS485 transceiver's DE line while selected.
	TxEnable int
}

type I2CPlan struct {
	ID  string // "i2c0" or "i2c1"
	SDA int
	SCL int
	Hz  uint32
}

type UARTPlan struct {
	ID   string // "uart0" or "uart1"
	TX   int
	RX   int
	Baud uint32
}
