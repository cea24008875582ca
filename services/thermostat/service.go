package thermostat

import (
	"context"
	"time"

	"fvcontroller-go/bus"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
	"fvcontroller-go/x/timex"
)

var (
	TopicState = bus.T("thermostat", "state")
	TopicScan  = bus.T("onewire", "scan")
)

const (
	DefaultTickHz = 10
	DefaultPeriod = 10 // ticks per cycle
)

// ScanResult answers a request on TopicScan.
type ScanResult struct {
	N     int
	Addrs [onewire.MaxDevices]onewire.Address
	Err   error
}

// Service drives a Controller from a ticker and is the only goroutine that
// touches the probe bus. Other goroutines scan through TopicScan.
type Service struct {
	Ctl    *Controller
	TickHz uint32
	Period int
}

// Start runs the loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.TickHz == 0 {
		s.TickHz = DefaultTickHz
	}
	if s.Period <= 0 {
		s.Period = DefaultPeriod
	}
	scanSub := conn.Subscribe(TopicScan)
	go s.serviceLoop(ctx, conn, scanSub)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, scanSub *bus.Subscription) {
	defer conn.Unsubscribe(scanSub)

	s.Ctl.Settle()
	if !s.Ctl.StartConversion() {
		println("[thermostat] no probes answered the first conversion")
	}

	tick := time.NewTicker(timex.PeriodFromHz(s.TickHz))
	defer tick.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			println("[thermostat] stopping")
			return
		case <-tick.C:
			ticks++
			if ticks < s.Period {
				continue
			}
			ticks = 0
			s.cycle(conn)
		case msg, ok := <-scanSub.Channel():
			if !ok {
				return
			}
			var r ScanResult
			r.N, r.Err = s.Ctl.Scan(r.Addrs[:])
			conn.Reply(msg, r, false)
		}
	}
}

func (s *Service) cycle(conn *bus.Connection) {
	s.Ctl.AcquireAndControl()
	s.Ctl.StartConversion()
	st := s.Ctl.Snapshot()
	st.TS = timex.NowMs()
	conn.Publish(conn.NewMessage(TopicState, st, true))
}

// Scanner asks a running Service to enumerate the bus.
type Scanner struct {
	Conn    *bus.Connection
	Timeout time.Duration
}

func (sc Scanner) Scan(dst []onewire.Address) (int, error) {
	to := sc.Timeout
	if to <= 0 {
		to = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), to)
	defer cancel()
	reply, err := sc.Conn.RequestWait(ctx, sc.Conn.NewMessage(TopicScan, struct{}{}, false))
	if err != nil {
		return 0, errcode.Wrap("scan", errcode.Timeout, err)
	}
	r, ok := reply.Payload.(ScanResult)
	if !ok {
		return 0, errcode.Error
	}
	copy(dst, r.Addrs[:min(r.N, len(r.Addrs))])
	return r.N, r.Err
}
