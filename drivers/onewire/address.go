package onewire

import (
	"fvcontroller-go/errcode"
	"fvcontroller-go/x/conv"
)

// Address is a 64-bit ROM code: family, 48-bit serial, CRC-8.
type Address [8]byte

// Family returns the device family code.
func (a Address) Family() byte { return a[0] }

// IsZero reports an unassigned address.
func (a Address) IsZero() bool { return a == Address{} }

// Valid reports a correct trailing CRC. The all-zero address passes the
// CRC but is never valid.
func (a Address) Valid() bool { return !a.IsZero() && CRC8(a[:]) == 0 }

func (a Address) bit(p uint8) bool { return a[(p-1)/8]&(1<<((p-1)%8)) != 0 }

func (a *Address) setBit(p uint8, v bool) {
	m := byte(1) << ((p - 1) % 8)
	if v {
		a[(p-1)/8] |= m
	} else {
		a[(p-1)/8] &^= m
	}
}

// AppendText appends the 16 uppercase hex digit form.
func (a Address) AppendText(dst []byte) []byte { return conv.AppendHex(dst, a[:]) }

func (a Address) String() string {
	var buf [16]byte
	return string(a.AppendText(buf[:0]))
}

// ParseAddress reads the String form (either case). It does not check the CRC.
func ParseAddress(s string) (Address, error) {
	var a Address
	if !conv.ParseHex(a[:], s) {
		return a, errcode.InvalidValue
	}
	return a, nil
}
