package message

import (
	"encoding/binary"
	"math"
)

// NextType inspects tag at read cursor.
func (self *Buffer) NextType() (Type, error) {
	tag, ok := self.Peek()
	if !ok {
		return TypeInvalid, ErrNoData
	}
	return tagType(tag), nil
}

func (self *Buffer) UnpackNil() error {
	tag, ok := self.Peek()
	if !ok {
		return ErrNoData
	}
	if tag != TagNil {
		return ErrType
	}
	self.read++
	return nil
}

func (self *Buffer) UnpackBool() (bool, error) {
	tag, ok := self.Peek()
	if !ok {
		return false, ErrNoData
	}
	switch tag {
	case TagTrue:
		self.read++
		return true, nil
	case TagFalse:
		self.read++
		return false, nil
	}
	return false, ErrType
}

func (self *Buffer) UnpackUint8() (uint8, error) {
	v, err := self.unpackUnsigned(math.MaxUint8)
	return uint8(v), err
}
func (self *Buffer) UnpackUint16() (uint16, error) {
	v, err := self.unpackUnsigned(math.MaxUint16)
	return uint16(v), err
}
func (self *Buffer) UnpackUint32() (uint32, error) {
	v, err := self.unpackUnsigned(math.MaxUint32)
	return uint32(v), err
}
func (self *Buffer) UnpackUint64() (uint64, error) {
	return self.unpackUnsigned(math.MaxUint64)
}
func (self *Buffer) UnpackInt8() (int8, error) {
	v, err := self.unpackSigned(math.MinInt8, math.MaxInt8)
	return int8(v), err
}
func (self *Buffer) UnpackInt16() (int16, error) {
	v, err := self.unpackSigned(math.MinInt16, math.MaxInt16)
	return int16(v), err
}
func (self *Buffer) UnpackInt32() (int32, error) {
	v, err := self.unpackSigned(math.MinInt32, math.MaxInt32)
	return int32(v), err
}
func (self *Buffer) UnpackInt64() (int64, error) {
	return self.unpackSigned(math.MinInt64, math.MaxInt64)
}

func (self *Buffer) UnpackFloat32() (float32, error) {
	b := self.unread()
	if len(b) == 0 {
		return 0, ErrNoData
	}
	if b[0] != TagFloat32 {
		return 0, ErrType
	}
	if len(b) < 5 {
		return 0, ErrNoData
	}
	self.read += 5
	return math.Float32frombits(binary.BigEndian.Uint32(b[1:])), nil
}

// UnpackFloat64 accepts both 4 and 8 byte floats.
func (self *Buffer) UnpackFloat64() (float64, error) {
	b := self.unread()
	if len(b) == 0 {
		return 0, ErrNoData
	}
	switch b[0] {
	case TagFloat32:
		if len(b) < 5 {
			return 0, ErrNoData
		}
		self.read += 5
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b[1:]))), nil
	case TagFloat64:
		if len(b) < 9 {
			return 0, ErrNoData
		}
		self.read += 9
		return math.Float64frombits(binary.BigEndian.Uint64(b[1:])), nil
	}
	return 0, ErrType
}

// UnpackRaw returns copy of next raw string.
func (self *Buffer) UnpackRaw() ([]byte, error) {
	hlen, n, err := self.peekRawHeader()
	if err != nil {
		return nil, err
	}
	b := self.unread()
	out := make([]byte, n)
	copy(out, b[hlen:hlen+n])
	self.read += hlen + n
	return out, nil
}

func (self *Buffer) UnpackString() (string, error) {
	hlen, n, err := self.peekRawHeader()
	if err != nil {
		return "", err
	}
	b := self.unread()
	s := string(b[hlen : hlen+n])
	self.read += hlen + n
	return s, nil
}

// UnpackArray returns number of elements that follow.
func (self *Buffer) UnpackArray() (int, error) {
	return self.unpackContainer(TagFixarrayMin, TagFixarrayMax, TagArray16, TagArray32)
}

// UnpackMap returns number of key/value pairs that follow.
func (self *Buffer) UnpackMap() (int, error) {
	return self.unpackContainer(TagFixmapMin, TagFixmapMax, TagMap16, TagMap32)
}

type integer struct {
	neg bool
	mag uint64
}

// peekInteger decodes any integer encoding at read cursor, returns value and encoded length.
func (self *Buffer) peekInteger() (integer, int, error) {
	b := self.unread()
	if len(b) == 0 {
		return integer{}, 0, ErrNoData
	}
	tag := b[0]
	signed := func(v int64) integer {
		if v < 0 {
			return integer{neg: true, mag: uint64(-v)}
		}
		return integer{mag: uint64(v)}
	}
	var size int
	switch tag {
	case TagUint8, TagInt8:
		size = 2
	case TagUint16, TagInt16:
		size = 3
	case TagUint32, TagInt32:
		size = 5
	case TagUint64, TagInt64:
		size = 9
	default:
		switch {
		case tag <= TagPositiveFixintMax:
			return integer{mag: uint64(tag)}, 1, nil
		case tag >= TagNegativeFixintMin:
			return signed(int64(int8(tag))), 1, nil
		}
		return integer{}, 0, ErrType
	}
	if len(b) < size {
		return integer{}, 0, ErrNoData
	}
	p := b[1:size]
	switch tag {
	case TagUint8:
		return integer{mag: uint64(p[0])}, size, nil
	case TagUint16:
		return integer{mag: uint64(binary.BigEndian.Uint16(p))}, size, nil
	case TagUint32:
		return integer{mag: uint64(binary.BigEndian.Uint32(p))}, size, nil
	case TagUint64:
		return integer{mag: binary.BigEndian.Uint64(p)}, size, nil
	case TagInt8:
		return signed(int64(int8(p[0]))), size, nil
	case TagInt16:
		return signed(int64(int16(binary.BigEndian.Uint16(p)))), size, nil
	case TagInt32:
		return signed(int64(int32(binary.BigEndian.Uint32(p)))), size, nil
	default: // TagInt64
		return signed(int64(binary.BigEndian.Uint64(p))), size, nil
	}
}

func (self *Buffer) unpackUnsigned(max uint64) (uint64, error) {
	x, n, err := self.peekInteger()
	if err != nil {
		return 0, err
	}
	if x.neg || x.mag > max {
		return 0, ErrRange
	}
	self.read += n
	return x.mag, nil
}

func (self *Buffer) unpackSigned(min, max int64) (int64, error) {
	x, n, err := self.peekInteger()
	if err != nil {
		return 0, err
	}
	if x.neg {
		// -(min+1) never overflows, +1 restores magnitude of min
		if x.mag > uint64(-(min+1))+1 {
			return 0, ErrRange
		}
		self.read += n
		return int64(-x.mag), nil
	}
	if x.mag > uint64(max) {
		return 0, ErrRange
	}
	self.read += n
	return int64(x.mag), nil
}

// peekRawHeader returns header length and payload length of raw string at read cursor.
// Payload is guaranteed to be fully present on nil error.
func (self *Buffer) peekRawHeader() (int, int, error) {
	b := self.unread()
	if len(b) == 0 {
		return 0, 0, ErrNoData
	}
	tag := b[0]
	var hlen, n int
	switch {
	case IsFixraw(tag):
		hlen, n = 1, int(tag-TagFixrawMin)
	case tag == TagStr8 || tag == TagBin8:
		if len(b) < 2 {
			return 0, 0, ErrNoData
		}
		hlen, n = 2, int(b[1])
	case tag == TagRaw16 || tag == TagBin16:
		if len(b) < 3 {
			return 0, 0, ErrNoData
		}
		hlen, n = 3, int(binary.BigEndian.Uint16(b[1:]))
	case tag == TagRaw32 || tag == TagBin32:
		if len(b) < 5 {
			return 0, 0, ErrNoData
		}
		n64 := uint64(binary.BigEndian.Uint32(b[1:]))
		if n64 > uint64(len(b)) {
			return 0, 0, ErrNoData
		}
		hlen, n = 5, int(n64)
	default:
		return 0, 0, ErrType
	}
	if len(b)-hlen < n {
		return 0, 0, ErrNoData
	}
	return hlen, n, nil
}

func (self *Buffer) unpackContainer(fixMin, fixMax, tag16, tag32 byte) (int, error) {
	b := self.unread()
	if len(b) == 0 {
		return 0, ErrNoData
	}
	tag := b[0]
	switch {
	case tag >= fixMin && tag <= fixMax:
		self.read++
		return int(tag - fixMin), nil
	case tag == tag16:
		if len(b) < 3 {
			return 0, ErrNoData
		}
		self.read += 3
		return int(binary.BigEndian.Uint16(b[1:])), nil
	case tag == tag32:
		if len(b) < 5 {
			return 0, ErrNoData
		}
		n := binary.BigEndian.Uint32(b[1:])
		if uint64(n) > uint64(math.MaxInt32) {
			return 0, ErrRange
		}
		self.read += 5
		return int(n), nil
	}
	return 0, ErrType
}
