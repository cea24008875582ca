//go:build (rp2040 || rp2350) && !fv_ds2482

package platform

var SelectedPlan = Plan{
	OneWire:        2,
	CoilASet:       6,
	CoilAReset:     7,
	CoilBSet:       8,
	CoilBReset:     9,
	FeedbackOpen:   10,
	FeedbackClosed: 11,
	LED:            25,
	Backlight:      15,
	Console:        UARTPlan{ID: "uart0", TX: 0, RX: 1, Baud: 9600},
	TxEnable:       3,
}
