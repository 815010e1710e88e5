package tele

import (
	"encoding/binary"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/message"
)

// EventHeader prefixes every event payload, all fields little-endian.
type EventHeader struct {
	Code          uint16
	InvocationID  uint32 // reserved, always 0
	PayloadLength uint32
}

func (self EventHeader) Append(b []byte) []byte {
	var tmp [EventHeaderSize]byte
	binary.LittleEndian.PutUint16(tmp[0:], self.Code)
	binary.LittleEndian.PutUint32(tmp[2:], self.InvocationID)
	binary.LittleEndian.PutUint32(tmp[6:], self.PayloadLength)
	return append(b, tmp[:]...)
}

func ParseEventHeader(b []byte) (EventHeader, error) {
	if len(b) < EventHeaderSize {
		return EventHeader{}, errors.Annotatef(ErrDecode, "event header length=%d", len(b))
	}
	return EventHeader{
		Code:          binary.LittleEndian.Uint16(b[0:]),
		InvocationID:  binary.LittleEndian.Uint32(b[2:]),
		PayloadLength: binary.LittleEndian.Uint32(b[6:]),
	}, nil
}

func EncodeEvent(code uint16, payload []byte) []byte {
	b := make([]byte, 0, EventHeaderSize+len(payload))
	b = EventHeader{Code: code, PayloadLength: uint32(len(payload))}.Append(b)
	return append(b, payload...)
}

func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength {
		return errors.Annotatef(ErrInvalidArg, "name=%q length must be 1..%d", name, MaxNameLength)
	}
	return nil
}

// EncodeNamedEvent packs name as fixraw followed by packed arguments.
func EncodeNamedEvent(name string, args []byte) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	body := make([]byte, 0, 1+len(name)+len(args))
	body = append(body, message.TagFixrawMin+byte(len(name)))
	body = append(body, name...)
	body = append(body, args...)
	return EncodeEvent(EventNamedPacked, body), nil
}

// CommandType reads type code from command header.
func CommandType(frame []byte) (uint16, error) {
	if len(frame) < CommandHeaderSize {
		return 0, errors.Annotatef(ErrDecode, "command length=%d < header", len(frame))
	}
	return binary.LittleEndian.Uint16(frame[2:]), nil
}

// EncodeCommand builds command frame, header bytes other than type are zero.
func EncodeCommand(code uint16, payload []byte) []byte {
	b := make([]byte, CommandHeaderSize, CommandHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(b[2:], code)
	return append(b, payload...)
}

func EncodeNamedCommand(name string, args []byte) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	body := make([]byte, 0, 1+len(name)+len(args))
	body = append(body, message.TagFixrawMin+byte(len(name)))
	body = append(body, name...)
	body = append(body, args...)
	return EncodeCommand(CommandNamedPacked, body), nil
}

// EncodeSetAddress builds SET_ADDRESS command, address is byte-reversed on the wire.
func EncodeSetAddress(a Address) []byte {
	var wire [AddressSize]byte
	for i := range a {
		wire[AddressSize-1-i] = a[i]
	}
	return EncodeCommand(CommandSetAddress, wire[:])
}

// ParseSetAddress returns address from SET_ADDRESS command frame.
func ParseSetAddress(frame []byte) (Address, error) {
	var a Address
	if len(frame) < CommandHeaderSize+AddressSize {
		return a, errors.Annotatef(ErrDecode, "set address length=%d", len(frame))
	}
	wire := frame[CommandHeaderSize : CommandHeaderSize+AddressSize]
	for i := range a {
		a[i] = wire[AddressSize-1-i]
	}
	return a, nil
}

// DecodeNamedCommand copies command body into dst, extracts name and
// compacts remaining arguments to the start of dst.
// Name is truncated to nameCap-1 bytes (room for terminator on small targets),
// but arguments are always shifted by full encoded name length.
// Returns name and argument length.
func DecodeNamedCommand(dst []byte, frame []byte, nameCap int) (string, int, error) {
	if nameCap < 2 {
		return "", 0, errors.Annotatef(ErrInvalidArg, "name capacity=%d", nameCap)
	}
	typ, err := CommandType(frame)
	if err != nil {
		return "", 0, err
	}
	if typ != CommandNamedPacked {
		return "", 0, errors.Annotatef(ErrDecode, "command type=%04x not named", typ)
	}
	body := frame[CommandHeaderSize:]
	if len(dst) < len(body) {
		return "", 0, errors.Annotatef(message.ErrCapacity, "command length=%d buffer=%d", len(body), len(dst))
	}
	if len(body) == 0 {
		return "", 0, errors.Annotate(ErrDecode, "named command without name")
	}
	copy(dst, body)
	tag := dst[0]
	if !message.IsFixraw(tag) {
		return "", 0, errors.Annotatef(ErrDecode, "name tag=%02x", tag)
	}
	nameLen := int(tag - message.TagFixrawMin)
	if 1+nameLen > len(body) {
		return "", 0, errors.Annotatef(ErrDecode, "name length=%d body=%d", nameLen, len(body))
	}
	copyLen := nameLen
	if copyLen > nameCap-1 {
		copyLen = nameCap - 1
	}
	name := string(dst[1 : 1+copyLen])
	n := copy(dst, dst[1+nameLen:len(body)])
	return name, n, nil
}

// DecodeNamedCommandBuffer is DecodeNamedCommand into message buffer,
// buf is cleared and Used is set to argument length.
func DecodeNamedCommandBuffer(buf *message.Buffer, frame []byte, nameCap int) (string, error) {
	buf.Clear()
	name, n, err := DecodeNamedCommand(buf.Storage(), frame, nameCap)
	if err != nil {
		return "", err
	}
	if err = buf.SetUsed(n); err != nil {
		return "", err
	}
	return name, nil
}
