//go:build (rp2040 || rp2350) && fv_ds2482

package platform

// Probes hang off a DS2482-100 on i2c0; GPIO 2 is free.
var SelectedPlan = Plan{
	OneWire:        -1,
	DS2482:         &I2CPlan{ID: "i2c0", SDA: 4, SCL: 5, Hz: 400_000},
	CoilASet:       6,
	CoilAReset:     7,
	CoilBSet:       8,
	CoilBReset:     9,
	FeedbackOpen:   10,
	FeedbackClosed: 11,
	LED:            25,
	Backlight:      -1,
	Console:        UARTPlan{ID: "uart0", TX: 0, RX: 1, Baud: 9600},
	TxEnable:       3,
}
