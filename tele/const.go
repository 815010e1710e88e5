package tele

// Library version reported in connect message.
const LibraryVersion = 0x0202

const (
	CommandHeaderSize = 16
	EventHeaderSize   = 10
	AddressSize       = 8
	// MaxNameLength fits fixraw tag.
	MaxNameLength = 31
)

// Command codes, bytes 2..3 of command header.
const (
	CommandSetAddress   uint16 = 0xB000
	CommandStartRaw     uint16 = 0xC000
	CommandStartPacked  uint16 = 0xC100
	CommandNamedPacked  uint16 = 0xC17F
	CommandIDMask       uint16 = 0x00FF
	CommandFormatMask   uint16 = 0xFF00
	CommandDisplayImage uint16 = 0xD000
	CommandDisplayText  uint16 = 0xD001

	CommandFirmwareArduino uint16 = 0xF010
	CommandFirmwareMbed    uint16 = 0xF020
)

// Event codes.
const (
	EventAnnounce    uint16 = 0xA000
	EventStartRaw    uint16 = 0xE000
	EventStartPacked uint16 = 0xE100
	EventNamedPacked uint16 = 0xE17F
	EventIDMask      uint16 = 0x00FF
	EventFormatMask  uint16 = 0xFF00
)

// Command response return codes.
const (
	ReturnSuccess byte = 0x00
	ReturnFailure byte = 0xff
)

// IsApplicationCommand reports raw or packed format, which is delivered
// to application via pending command slot.
func IsApplicationCommand(code uint16) bool {
	f := code & CommandFormatMask
	return f == CommandStartRaw || f == CommandStartPacked
}
