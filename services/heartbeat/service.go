// Package heartbeat blinks the status LED: slowly while all is well, quickly
// while the thermostat reports an alarm.
package heartbeat

import (
	"context"
	"time"

	"fvcontroller-go/bus"
	"fvcontroller-go/services/thermostat"
	"fvcontroller-go/types"
)

const (
	DefaultInterval      = time.Second
	DefaultAlarmInterval = 250 * time.Millisecond
	DefaultLogEvery      = 30
)

type LED interface{ Set(on bool) }

type Service struct {
	LED           LED
	Interval      time.Duration
	AlarmInterval time.Duration
	// LogEvery logs a status line every N beats; negative disables it.
	LogEvery int
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	stateSub := conn.Subscribe(thermostat.TopicState)
	defer conn.Unsubscribe(stateSub)

	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	var (
		st      types.ThermostatState
		alarmed bool
		on      bool
		beats   int
	)
	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case <-tick.C:
			on = !on
			if s.LED != nil {
				s.LED.Set(on)
			}
			beats++
			if s.LogEvery > 0 && beats%s.LogEvery == 0 {
				println("[heartbeat] cycle", st.Cycle, "t0", st.Probes[0].String(),
					"valve", st.Observed.String(), "alarm", st.Alarms.String())
			}
		case msg, ok := <-stateSub.Channel():
			if !ok {
				return
			}
			next, ok := msg.Payload.(types.ThermostatState)
			if !ok {
				continue
			}
			st = next
			if a := st.Alarms != 0; a != alarmed {
				alarmed = a
				if a {
					println("[heartbeat] alarm:", st.Alarms.String())
					tick.Reset(s.AlarmInterval)
				} else {
					println("[heartbeat] alarm cleared")
					tick.Reset(s.Interval)
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.AlarmInterval <= 0 {
		s.AlarmInterval = DefaultAlarmInterval
	}
	if s.LogEvery == 0 {
		s.LogEvery = DefaultLogEvery
	}
	go s.serviceLoop(ctx, conn)
	return nil
}
