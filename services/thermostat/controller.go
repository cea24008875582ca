// Package thermostat runs the acquisition and control cycle: read the
// configured probes, apply hysteresis to the primary one and drive the valve.
package thermostat

import (
	"sync"

	"fvcontroller-go/drivers/ds18b20"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/drivers/valve"
	"fvcontroller-go/types"
)

// MaxProbes is the number of probe slots. Slot 0 is the primary probe.
const MaxProbes = 4

// Settings is the configuration the loop reads at the start of every cycle.
type Settings interface {
	ProbeAddress(slot int) (onewire.Address, bool)
	SetPoints() (lo, hi types.Temperature)
	Topology() types.ValveTopology
}

// Controller owns the probe readings and the desired valve state. Cycle
// methods are meant for one goroutine; the accessors may be called from any.
type Controller struct {
	bus      *onewire.Bus
	settings Settings
	valve    *valve.Valve
	policy   AlarmPolicy

	mu      sync.Mutex
	temps   [MaxProbes]types.Reading
	addrs   [MaxProbes]onewire.Address
	misses  int
	desired types.ValveState
	alarms  types.Alarm
	cycle   uint32
}

// New builds a controller. A nil policy raises no alarms.
func New(bus *onewire.Bus, s Settings, v *valve.Valve, p AlarmPolicy) *Controller {
	if p == nil {
		p = NoAlarms{}
	}
	return &Controller{bus: bus, settings: s, valve: v, policy: p}
}

// StartConversion broadcasts a conversion to every probe. Readings are
// available one conversion time later.
func (c *Controller) StartConversion() bool { return ds18b20.StartConversion(c.bus) }

// AcquireAndControl reads every assigned probe and runs one control step.
// Failed reads keep the last good value. Without any good primary value the
// valve is left alone.
func (c *Controller) AcquireAndControl() {
	var fresh [MaxProbes]types.Reading
	var addrs [MaxProbes]onewire.Address
	for i := 0; i < MaxProbes; i++ {
		a, ok := c.settings.ProbeAddress(i)
		if !ok || a.IsZero() {
			continue
		}
		addrs[i] = a
		fresh[i] = ds18b20.ReadTemperature(c.bus, a)
	}
	lo, hi := c.settings.SetPoints()
	top := c.settings.Topology()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.valve.SetTopology(top)
	c.cycle++
	for i := range fresh {
		if addrs[i] != c.addrs[i] {
			// Slot reassigned or cleared: the old value belongs to another probe.
			c.addrs[i] = addrs[i]
			c.temps[i] = types.Reading{}
		}
		if fresh[i].Valid {
			c.temps[i] = fresh[i]
		}
	}
	if fresh[0].Valid {
		c.misses = 0
	} else {
		c.misses++
	}

	if t := c.temps[0]; t.Valid {
		next := c.desired
		if t.Value > hi {
			next = types.Open
		}
		if t.Value < lo {
			next = types.Closed
		}
		if c.valve.Apply(c.desired, next) {
			println("[thermostat] valve", next.String(), "at", t.Value.String())
		}
		c.desired = next
	}

	c.alarms = c.policy.Evaluate(AlarmInput{
		Primary:  c.temps[0],
		Misses:   c.misses,
		Desired:  c.desired,
		Observed: c.valve.Observed(c.desired),
	})
}

// Settle commands the current desired state once so latching relays agree
// with it after power-up.
func (c *Controller) Settle() {
	top := c.settings.Topology()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valve.SetTopology(top)
	c.valve.Command(c.desired)
}

// Scan enumerates the probe bus. Call it from the goroutine that runs the cycle.
func (c *Controller) Scan(dst []onewire.Address) (int, error) { return c.bus.Scan(dst) }

// Temperature returns the last good reading of a slot.
func (c *Controller) Temperature(slot int) types.Reading {
	if slot < 0 || slot >= MaxProbes {
		return types.Reading{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temps[slot]
}

func (c *Controller) Desired() types.ValveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

// Observed reads the limit switches now.
func (c *Controller) Observed() types.ValveObserved {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valve.Observed(c.desired)
}

func (c *Controller) Alarms() types.Alarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alarms
}

func (c *Controller) Faults() *onewire.Faults { return c.bus.Faults() }

// Snapshot collects the state published after each cycle.
func (c *Controller) Snapshot() types.ThermostatState {
	c.mu.Lock()
	s := types.ThermostatState{
		Probes:  c.temps,
		Desired: c.desired,
		Alarms:  c.alarms,
		Cycle:   c.cycle,
	}
	s.Observed = c.valve.Observed(c.desired)
	c.mu.Unlock()
	s.Faults = c.bus.Faults().Snapshot()
	return s
}
