package types

import (
	"errors"

	"fvcontroller-go/x/conv"
	"fvcontroller-go/x/mathx"
)

var ErrBadTemperature = errors.New("bad temperature")

// AppendText renders t as "[-]D.DDDD".
func (t Temperature) AppendText(dst []byte) []byte {
	v := mathx.Abs(int64(t))
	if t < 0 {
		dst = append(dst, '-')
	}
	var buf [20]byte
	dst = append(dst, conv.Utoa(buf[:], uint64(v/TempScale))...)
	dst = append(dst, '.')
	return append(dst, conv.PadLeft(buf[:], uint64(v%TempScale), 4)...)
}

func (t Temperature) String() string {
	var buf [24]byte
	return string(t.AppendText(buf[:0]))
}

// String renders "none" for a missing reading.
func (r Reading) String() string {
	if !r.Valid {
		return "none"
	}
	return r.Value.String()
}

// ParseTemperature accepts "[-]D[.DDDD]" with at most four fractional digits.
func ParseTemperature(s string) (Temperature, error) {
	neg := false
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac := s, ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if len(whole) == 0 || len(frac) > 4 {
		return 0, ErrBadTemperature
	}
	w, ok := conv.Atou(whole)
	if !ok || w > 200000 {
		return 0, ErrBadTemperature
	}
	var f uint32
	if len(frac) > 0 {
		if f, ok = conv.Atou(frac); !ok {
			return 0, ErrBadTemperature
		}
		for i := len(frac); i < 4; i++ {
			f *= 10
		}
	}
	v := int32(w)*TempScale + int32(f)
	if neg {
		v = -v
	}
	return Temperature(v), nil
}
