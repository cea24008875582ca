package types

// ---- Temperature ----

// Temperature is a fixed-point value in ten-thousandths of a degree Celsius.
// One DS18B20 LSB (1/16 °C) is exactly 625 units.
type Temperature int32

// InvalidTemperature is the raw storage marker for "no reading".
// Code paths carry Reading.Valid instead of comparing against it.
const InvalidTemperature Temperature = 0x7FFFFFFF

const (
	TempScale = 10000 // units per degree
	RawLSB    = 625   // units per probe LSB
)

// Degrees builds a Temperature from whole degrees and ten-thousandths.
// Frac carries the sign of whole when whole is zero, e.g. Degrees(0, -5000) is -0.5.
func Degrees(whole int32, frac int32) Temperature {
	if whole < 0 {
		return Temperature(whole*TempScale - frac)
	}
	return Temperature(whole*TempScale + frac)
}

// Reading is an optional Temperature.
type Reading struct {
	Value Temperature `json:"value"`
	Valid bool        `json:"valid"`
}

// ValidReading wraps t as a present reading.
func ValidReading(t Temperature) Reading { return Reading{Value: t, Valid: true} }

// ---- Valve ----

type ValveTopology uint8

const (
	SpringReturn ValveTopology = iota
	BallNoFeedback
	BallWithFeedback
)

func (t ValveTopology) String() string {
	switch t {
	case SpringReturn:
		return "spring"
	case BallNoFeedback:
		return "ball"
	case BallWithFeedback:
		return "ball-fb"
	}
	return "unknown"
}

// ParseValveTopology accepts the String forms and the numeric selectors 0..2.
func ParseValveTopology(s string) (ValveTopology, bool) {
	switch s {
	case "spring", "0":
		return SpringReturn, true
	case "ball", "1":
		return BallNoFeedback, true
	case "ball-fb", "2":
		return BallWithFeedback, true
	}
	return 0, false
}

// ValveState is the commanded (desired) position.
type ValveState bool

const (
	Closed ValveState = false
	Open   ValveState = true
)

func (v ValveState) String() string {
	if v {
		return "open"
	}
	return "closed"
}

// ValveObserved is derived from desired state and limit-switch inputs.
type ValveObserved uint8

const (
	ObservedClosed ValveObserved = iota
	ObservedOpening
	ObservedOpen
	ObservedClosing
	ObservedError
)

func (o ValveObserved) String() string {
	switch o {
	case ObservedClosed:
		return "Closed"
	case ObservedOpening:
		return "Opening"
	case ObservedOpen:
		return "Open"
	case ObservedClosing:
		return "Closing"
	}
	return "Error"
}

// Glyph is the one-character form used on the display.
func (o ValveObserved) Glyph() byte {
	switch o {
	case ObservedClosed:
		return 'C'
	case ObservedOpening:
		return '>'
	case ObservedOpen:
		return 'O'
	case ObservedClosing:
		return '<'
	}
	return '!'
}

// InTransit reports Opening or Closing.
func (o ValveObserved) InTransit() bool {
	return o == ObservedOpening || o == ObservedClosing
}

// ---- Alarms ----

// Alarm is a bit set.
type Alarm uint8

const (
	AlarmNoTemperature Alarm = 1 << iota
	AlarmTooLow
	AlarmTooHigh
	AlarmValveStuck
)

// String names the highest-priority alarm present.
func (a Alarm) String() string {
	switch {
	case a&AlarmNoTemperature != 0:
		return "Probe error"
	case a&AlarmTooLow != 0:
		return "Temperature low"
	case a&AlarmTooHigh != 0:
		return "Temperature high"
	case a&AlarmValveStuck != 0:
		return "Valve stuck"
	}
	return "None"
}

// ---- Retained thermostat state ----

type FaultCounts struct {
	Missing uint8 `json:"missing"`
	Shorted uint8 `json:"shorted"`
	BadCRC  uint8 `json:"bad_crc"`
	NoPower uint8 `json:"no_power"`
}

// ThermostatState is published (retained) after every control cycle.
type ThermostatState struct {
	Probes   [4]Reading    `json:"probes"`
	Desired  ValveState    `json:"desired"`
	Observed ValveObserved `json:"observed"`
	Alarms   Alarm         `json:"alarms"`
	Faults   FaultCounts   `json:"faults"`
	Cycle    uint32        `json:"cycle"`
	TS       int64         `json:"ts_ms"`
}
