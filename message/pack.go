package message

import (
	"encoding/binary"
	"math"
)

func (self *Buffer) PackNil() error { return self.put1(TagNil) }

func (self *Buffer) PackBool(v bool) error {
	if v {
		return self.put1(TagTrue)
	}
	return self.put1(TagFalse)
}

func (self *Buffer) PackUint8(v uint8) error   { return self.packUint(uint64(v)) }
func (self *Buffer) PackUint16(v uint16) error { return self.packUint(uint64(v)) }
func (self *Buffer) PackUint32(v uint32) error { return self.packUint(uint64(v)) }
func (self *Buffer) PackUint64(v uint64) error { return self.packUint(v) }
func (self *Buffer) PackInt8(v int8) error     { return self.packInt(int64(v)) }
func (self *Buffer) PackInt16(v int16) error   { return self.packInt(int64(v)) }
func (self *Buffer) PackInt32(v int32) error   { return self.packInt(int64(v)) }
func (self *Buffer) PackInt64(v int64) error   { return self.packInt(v) }

func (self *Buffer) PackFloat32(v float32) error {
	p, err := self.reserve(5)
	if err != nil {
		return err
	}
	p[0] = TagFloat32
	binary.BigEndian.PutUint32(p[1:], math.Float32bits(v))
	return nil
}

func (self *Buffer) PackFloat64(v float64) error {
	p, err := self.reserve(9)
	if err != nil {
		return err
	}
	p[0] = TagFloat64
	binary.BigEndian.PutUint64(p[1:], math.Float64bits(v))
	return nil
}

func (self *Buffer) PackRaw(v []byte) error {
	var hdr [5]byte
	h := rawHeader(hdr[:], len(v))
	p, err := self.reserve(len(h) + len(v))
	if err != nil {
		return err
	}
	copy(p[copy(p, h):], v)
	return nil
}

func (self *Buffer) PackString(s string) error {
	var hdr [5]byte
	h := rawHeader(hdr[:], len(s))
	p, err := self.reserve(len(h) + len(s))
	if err != nil {
		return err
	}
	copy(p[copy(p, h):], s)
	return nil
}

// PackArray writes header of array with n following elements.
func (self *Buffer) PackArray(n int) error {
	return self.packContainer(n, TagFixarrayMin, TagFixarrayMax, TagArray16, TagArray32)
}

// PackMap writes header of map with n following key/value pairs.
func (self *Buffer) PackMap(n int) error {
	return self.packContainer(n, TagFixmapMin, TagFixmapMax, TagMap16, TagMap32)
}

func (self *Buffer) put1(tag byte) error {
	p, err := self.reserve(1)
	if err != nil {
		return err
	}
	p[0] = tag
	return nil
}

func (self *Buffer) packUint(v uint64) error {
	var tmp [9]byte
	var n int
	switch {
	case v <= TagPositiveFixintMax:
		tmp[0] = byte(v)
		n = 1
	case v <= math.MaxUint8:
		tmp[0], tmp[1] = TagUint8, byte(v)
		n = 2
	case v <= math.MaxUint16:
		tmp[0] = TagUint16
		binary.BigEndian.PutUint16(tmp[1:], uint16(v))
		n = 3
	case v <= math.MaxUint32:
		tmp[0] = TagUint32
		binary.BigEndian.PutUint32(tmp[1:], uint32(v))
		n = 5
	default:
		tmp[0] = TagUint64
		binary.BigEndian.PutUint64(tmp[1:], v)
		n = 9
	}
	return self.putN(tmp[:n])
}

func (self *Buffer) packInt(v int64) error {
	if v >= 0 {
		return self.packUint(uint64(v))
	}
	var tmp [9]byte
	var n int
	switch {
	case v >= -32:
		tmp[0] = byte(int8(v))
		n = 1
	case v >= math.MinInt8:
		tmp[0], tmp[1] = TagInt8, byte(int8(v))
		n = 2
	case v >= math.MinInt16:
		tmp[0] = TagInt16
		binary.BigEndian.PutUint16(tmp[1:], uint16(int16(v)))
		n = 3
	case v >= math.MinInt32:
		tmp[0] = TagInt32
		binary.BigEndian.PutUint32(tmp[1:], uint32(int32(v)))
		n = 5
	default:
		tmp[0] = TagInt64
		binary.BigEndian.PutUint64(tmp[1:], uint64(v))
		n = 9
	}
	return self.putN(tmp[:n])
}

func (self *Buffer) packContainer(n int, fixMin, fixMax, tag16, tag32 byte) error {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return ErrRange
	}
	var tmp [5]byte
	var size int
	switch {
	case n <= int(fixMax-fixMin):
		tmp[0] = fixMin + byte(n)
		size = 1
	case n <= math.MaxUint16:
		tmp[0] = tag16
		binary.BigEndian.PutUint16(tmp[1:], uint16(n))
		size = 3
	default:
		tmp[0] = tag32
		binary.BigEndian.PutUint32(tmp[1:], uint32(n))
		size = 5
	}
	return self.putN(tmp[:size])
}

func (self *Buffer) putN(b []byte) error {
	p, err := self.reserve(len(b))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

// rawHeader encodes raw string header for length n into dst, returns used part.
func rawHeader(dst []byte, n int) []byte {
	switch {
	case n <= MaxFixraw:
		dst[0] = TagFixrawMin + byte(n)
		return dst[:1]
	case n <= math.MaxUint16:
		dst[0] = TagRaw16
		binary.BigEndian.PutUint16(dst[1:], uint16(n))
		return dst[:3]
	default:
		dst[0] = TagRaw32
		binary.BigEndian.PutUint32(dst[1:], uint32(n))
		return dst[:5]
	}
}
