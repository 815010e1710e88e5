package message

// MessagePack tags. Raw strings use the legacy raw family (fixraw, raw16, raw32),
// str8 and bin family are accepted on decode.
const (
	TagPositiveFixintMax = 0x7f
	TagFixmapMin         = 0x80
	TagFixmapMax         = 0x8f
	TagFixarrayMin       = 0x90
	TagFixarrayMax       = 0x9f
	TagFixrawMin         = 0xa0
	TagFixrawMax         = 0xbf
	TagNil               = 0xc0
	TagFalse             = 0xc2
	TagTrue              = 0xc3
	TagBin8              = 0xc4
	TagBin16             = 0xc5
	TagBin32             = 0xc6
	TagFloat32           = 0xca
	TagFloat64           = 0xcb
	TagUint8             = 0xcc
	TagUint16            = 0xcd
	TagUint32            = 0xce
	TagUint64            = 0xcf
	TagInt8              = 0xd0
	TagInt16             = 0xd1
	TagInt32             = 0xd2
	TagInt64             = 0xd3
	TagStr8              = 0xd9
	TagRaw16             = 0xda
	TagRaw32             = 0xdb
	TagArray16           = 0xdc
	TagArray32           = 0xdd
	TagMap16             = 0xde
	TagMap32             = 0xdf
	TagNegativeFixintMin = 0xe0

	MaxFixraw = TagFixrawMax - TagFixrawMin
)

// IsFixraw reports whether tag encodes short raw string length in low 5 bits.
func IsFixraw(tag byte) bool { return tag >= TagFixrawMin && tag <= TagFixrawMax }

type Type uint8

const (
	TypeInvalid Type = iota
	TypeNil
	TypeBool
	TypeInt
	TypeFloat
	TypeRaw
	TypeArray
	TypeMap
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeRaw:
		return "raw"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	}
	return "invalid"
}

func tagType(tag byte) Type {
	switch {
	case tag <= TagPositiveFixintMax, tag >= TagNegativeFixintMin:
		return TypeInt
	case tag >= TagFixmapMin && tag <= TagFixmapMax:
		return TypeMap
	case tag >= TagFixarrayMin && tag <= TagFixarrayMax:
		return TypeArray
	case IsFixraw(tag):
		return TypeRaw
	}
	switch tag {
	case TagNil:
		return TypeNil
	case TagFalse, TagTrue:
		return TypeBool
	case TagFloat32, TagFloat64:
		return TypeFloat
	case TagUint8, TagUint16, TagUint32, TagUint64, TagInt8, TagInt16, TagInt32, TagInt64:
		return TypeInt
	case TagStr8, TagRaw16, TagRaw32, TagBin8, TagBin16, TagBin32:
		return TypeRaw
	case TagArray16, TagArray32:
		return TypeArray
	case TagMap16, TagMap32:
		return TypeMap
	}
	return TypeInvalid
}
