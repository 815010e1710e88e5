// Package crc implements the CRC-16 CCITT variant used by cloud bridge
// devices: polynomial 0x1021, initial value 0xffff, no reflection,
// computed one byte at a time.
package crc

const CRC16_INIT uint16 = 0xffff

// CRC16_1021 feeds one byte into running crc.
func CRC16_1021(crc uint16, data byte) uint16 {
	s := data ^ byte(crc>>8)
	t := uint16(s ^ (s >> 4))
	return (crc << 8) ^ t ^ (t << 5) ^ (t << 12)
}

func CRC16_1021_n(crc uint16, bs []byte) uint16 {
	for _, b := range bs {
		crc = CRC16_1021(crc, b)
	}
	return crc
}

// CCITT returns checksum of bs starting from CRC16_INIT.
func CCITT(bs []byte) uint16 { return CRC16_1021_n(CRC16_INIT, bs) }

// bitwise form, used to cross check the shift/xor form above
func CRC16_1021_reference(crc uint16, data byte) uint16 {
	crc ^= uint16(data) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}
