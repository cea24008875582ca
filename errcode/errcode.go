package errcode

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	// One-wire bus (BusFault / DataFault / EnumerationFault).
	NoDevice     Code = "no_device"
	ShortedLow   Code = "shorted_low"
	ShortedHigh  Code = "shorted_high"
	BadCRC       Code = "bad_crc"
	SearchFailed Code = "search_failed"

	// Actuators.
	ValveError Code = "valve_error"

	// Registers / acknowledgement (ConfigFault).
	AckExceedsCount Code = "ack_exceeds_count"
	UnknownRegister Code = "unknown_register"
	ReadOnly        Code = "read_only"
	InvalidValue    Code = "invalid_value"

	// Host link.
	NotSelected Code = "not_selected"
	Rejected    Code = "rejected"

	Error Code = "error" // generic fallback
)

// E is an optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an *E for op with code c around err.
func Wrap(op string, c Code, err error) *E {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &E{C: c, Op: op, Msg: msg, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
