package conv

// Utoa writes base-10 representation of n into buf and returns the used slice.
func Utoa(buf []byte, n uint64) []byte {
	if len(buf) == 0 {
		return buf[:0]
	}
	i := len(buf)
	if n == 0 {
		i--
		buf[i] = '0'
		return buf[i:]
	}
	for n > 0 && i > 0 {
		i--
		buf[i] = byte('0' + (n % 10))
		n /= 10
	}
	return buf[i:]
}

// PadLeft writes n into buf zero-padded to width digits.
func PadLeft(buf []byte, n uint64, width int) []byte {
	d := Utoa(buf, n)
	i := len(buf) - len(d)
	for len(buf)-i < width && i > 0 {
		i--
		buf[i] = '0'
	}
	return buf[i:]
}

// Atou parses a non-empty run of ASCII digits. Overflow beyond uint32 is reported as !ok.
func Atou(s string) (uint32, bool) {
	if len(s) == 0 {
		return 0, false
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
		if v > 0xFFFFFFFF {
			return 0, false
		}
	}
	return uint32(v), true
}
