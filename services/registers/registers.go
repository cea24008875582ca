// Package registers exposes controller state and configuration as named,
// string-valued registers. Each register's Storage says where its value
// lives: non-volatile block, live state, a constant or a hardware pin.
package registers

import (
	"fvcontroller-go/errcode"
)

type Kind uint8

const (
	KindNV Kind = iota
	KindLive
	KindConst
	KindPin
)

func (k Kind) String() string {
	switch k {
	case KindNV:
		return "nv"
	case KindLive:
		return "live"
	case KindConst:
		return "const"
	case KindPin:
		return "pin"
	}
	return "unknown"
}

// Storage reads and writes one register's value as text.
type Storage interface {
	Kind() Kind
	ReadString() string
	// WriteString returns errcode.ReadOnly when the storage cannot be written.
	WriteString(v string) error
}

type Register struct {
	Name        string
	Description string
	Storage     Storage
}

// Registry is an ordered set of registers. It is built once at boot and
// only read afterwards.
type Registry struct {
	regs []Register
}

func (r *Registry) Add(reg Register) { r.regs = append(r.regs, reg) }

func (r *Registry) Lookup(name string) (*Register, bool) {
	for i := range r.regs {
		if r.regs[i].Name == name {
			return &r.regs[i], true
		}
	}
	return nil, false
}

// Names lists registers in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.regs))
	for i, reg := range r.regs {
		out[i] = reg.Name
	}
	return out
}

func (r *Registry) Read(name string) (string, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return "", errcode.UnknownRegister
	}
	return reg.Storage.ReadString(), nil
}

// Write stores v and returns the value read back.
func (r *Registry) Write(name, v string) (string, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return "", errcode.UnknownRegister
	}
	if err := reg.Storage.WriteString(v); err != nil {
		return "", err
	}
	return reg.Storage.ReadString(), nil
}

// ---- simple storages ----

// Const is a fixed value.
type Const string

func (Const) Kind() Kind                 { return KindConst }
func (c Const) ReadString() string       { return string(c) }
func (Const) WriteString(v string) error { return errcode.ReadOnly }

// Live reads (and optionally writes) running state through functions.
type Live struct {
	Read  func() string
	Write func(string) error // nil means read-only
}

func (Live) Kind() Kind           { return KindLive }
func (l Live) ReadString() string { return l.Read() }
func (l Live) WriteString(v string) error {
	if l.Write == nil {
		return errcode.ReadOnly
	}
	return l.Write(v)
}

// PinLine is the subset of a GPIO a Pin register needs.
type PinLine interface {
	Set(bool)
	Get() bool
}

// Pin exposes a digital output as "on"/"off".
type Pin struct{ Line PinLine }

func (Pin) Kind() Kind { return KindPin }

func (p Pin) ReadString() string {
	if p.Line.Get() {
		return "on"
	}
	return "off"
}

func (p Pin) WriteString(v string) error {
	switch v {
	case "on", "1":
		p.Line.Set(true)
	case "off", "0":
		p.Line.Set(false)
	default:
		return errcode.InvalidValue
	}
	return nil
}
