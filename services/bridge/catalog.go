package bridge

import (
	"strconv"
	"strings"
	"time"
)

// kind describes how a family of registers appears in Home Assistant.
type kind struct {
	component string
	writable  bool
	poll      time.Duration
	discovery map[string]any
	// format rewrites a raw value before it is published.
	format func(string) string
	// ack writes a counter's value back so the controller subtracts it.
	ack bool
}

var (
	tempKind = &kind{
		component: "sensor",
		poll:      time.Minute,
		discovery: map[string]any{
			"state_class":                 "measurement",
			"device_class":                "temperature",
			"unit_of_measurement":         "°C",
			"suggested_display_precision": 2,
		},
	}
	probeIDKind = &kind{
		component: "sensor",
		poll:      24 * time.Hour,
		discovery: map[string]any{"entity_category": "diagnostic"},
	}
	setPointKind = &kind{
		component: "number",
		writable:  true,
		poll:      time.Minute,
		discovery: map[string]any{
			"device_class":        "temperature",
			"unit_of_measurement": "°C",
			"step":                0.1,
			"min":                 0,
			"max":                 100,
		},
		format: oneDecimal,
	}
	statusKind = &kind{component: "sensor", poll: time.Minute}
	configKind = &kind{
		component: "text",
		writable:  true,
		poll:      24 * time.Hour,
		discovery: map[string]any{"entity_category": "config"},
	}
	infoKind = &kind{
		component: "sensor",
		poll:      24 * time.Hour,
		discovery: map[string]any{"entity_category": "diagnostic"},
	}
	errorKind = &kind{
		component: "sensor",
		poll:      time.Minute,
		discovery: map[string]any{
			"entity_category": "diagnostic",
			"state_class":     "measurement",
		},
		ack: true,
	}
	// genericKind covers registers the catalogue does not know.
	genericKind = &kind{component: "sensor", poll: 10 * time.Minute}
)

type catalogEntry struct {
	desc string
	kind *kind
}

var catalog = map[string]catalogEntry{
	"t0":       {"Fermenter temperature", tempKind},
	"t1":       {"t1", tempKind},
	"t2":       {"t2", tempKind},
	"t3":       {"t3", tempKind},
	"t0/id":    {"t0 probe ID", probeIDKind},
	"t1/id":    {"t1 probe ID", probeIDKind},
	"t2/id":    {"t2 probe ID", probeIDKind},
	"t3/id":    {"t3 probe ID", probeIDKind},
	"set/lo":   {"Low set point", setPointKind},
	"set/hi":   {"High set point", setPointKind},
	"alarm/lo": {"Alarm low set point", setPointKind},
	"alarm/hi": {"Alarm high set point", setPointKind},
	"jog/lo":   {"Stuck valve low set point", setPointKind},
	"jog/hi":   {"Stuck valve high set point", setPointKind},
	"v0":       {"Valve status", statusKind},
	"alarm":    {"Alarm", statusKind},
	"valve":    {"Valve type", configKind},
	"bl":       {"Backlight", configKind},
	"ver":      {"Firmware version", infoKind},
	"flashcnt": {"NV write count", infoKind},
	"err/miss": {"Missing probe errors", errorKind},
	"err/shrt": {"Shorted probe bus errors", errorKind},
	"err/crc":  {"Probe CRC errors", errorKind},
	"err/pwr":  {"Probe power errors", errorKind},
}

func lookupKind(reg string) catalogEntry {
	if e, ok := catalog[reg]; ok {
		return e
	}
	return catalogEntry{desc: reg, kind: genericKind}
}

// haName turns a register name into an MQTT/HA-safe word.
func haName(reg string) string { return strings.ReplaceAll(reg, "/", "_") }

func oneDecimal(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
