package main

import (
	"context"
	"time"

	"fvcontroller-go/bus"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/drivers/valve"
	"fvcontroller-go/platform"
	"fvcontroller-go/services/command"
	"fvcontroller-go/services/heartbeat"
	"fvcontroller-go/services/registers"
	"fvcontroller-go/services/thermostat"
)

const (
	version      = "2.0"
	defaultIdent = "fv0"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot fvcontroller", version)

	ctx := context.Background()

	board, err := platform.Open(ctx)
	if err != nil {
		halt("platform", err)
	}

	tab := registers.NewTable(board.NV, version, board.Backlight)
	seeded, err := tab.SeedDefaults(defaultIdent)
	if err != nil {
		println("[main] settings not writable:", err.Error())
	} else if seeded {
		println("[main] settings initialised, ident", defaultIdent)
	}
	println("[main] ident", tab.Ident(), "on", board.Name)

	probes := onewire.NewBus(board.OneWire, &onewire.Faults{})
	v := valve.New(tab.Topology(), board.Coils, board.Feedback)
	ctl := thermostat.New(probes, tab, v, &thermostat.ThresholdPolicy{
		Limits:     tab,
		StaleAfter: 3,
		StuckAfter: 30,
	})
	tab.Bind(ctl)

	b := bus.NewBus(4)

	if err := (&thermostat.Service{Ctl: ctl}).Start(ctx, b.NewConnection("thermostat")); err != nil {
		halt("thermostat", err)
	}
	if board.LED != nil {
		if err := (&heartbeat.Service{LED: board.LED}).Start(ctx, b.NewConnection("heartbeat")); err != nil {
			println("[main] heartbeat:", err.Error())
		}
	}

	h := &command.Handler{
		Table:    tab,
		Scanner:  thermostat.Scanner{Conn: b.NewConnection("command")},
		Transmit: board.Transmit,
	}
	if err := h.Serve(ctx, board.Console, board.Console); err != nil {
		println("[main] console failed:", err.Error())
	} else {
		println("[main] console closed")
	}
	// Control carries on without a console.
	select {}
}

func halt(what string, err error) {
	println("[main]", what, "failed:", err.Error())
	for {
		time.Sleep(time.Hour)
	}
}
