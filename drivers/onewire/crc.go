package onewire

// CRC8 is the Dallas/Maxim CRC (x^8+x^5+x^4+1, reflected 0x8C), LSB first, init 0.
// A buffer ending in its own CRC yields 0.
func CRC8(buf []byte) byte {
	var crc byte
	for _, b := range buf {
		for j := 0; j < 8; j++ {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return crc
}
