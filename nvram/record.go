// Package nvram keeps device identity (secret, project key, hardware id,
// claimed flag) in fixed layout record on non-volatile storage.
package nvram

import (
	"encoding/binary"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/claim"
	"github.com/temoto/cloudlink/crc"
)

const (
	RecordVersion = 1
	KeySize       = 32
	HardwareSize  = 8
	// RecordSize is serialized record length including checksum.
	RecordSize = 1 + 1 + 2 + 1 + 3 + claim.SecretSize + KeySize + HardwareSize + 2

	offSize     = 2
	offClaimed  = 4
	offSecret   = 8
	offKey      = offSecret + claim.SecretSize
	offHardware = offKey + KeySize
	offChecksum = offHardware + HardwareSize
)

type Record struct {
	Version    uint8
	Size       uint16
	Claimed    bool
	Secret     claim.Secret
	ProjectKey [KeySize]byte
	HardwareID [HardwareSize]byte
	Checksum   uint16
}

func (self Record) Key() string { return string(self.ProjectKey[:]) }

// Sum calculates checksum over all fields except itself.
func (self Record) Sum() uint16 {
	b := self.encode()
	return crc.CCITT(b[:offChecksum])
}

// MarshalBinary encodes record as is, stored Checksum included.
func (self Record) MarshalBinary() ([]byte, error) {
	b := self.encode()
	return b[:], nil
}

// UnmarshalBinary decodes and validates size field and checksum.
func (self *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return errors.NotValidf("nvram record length=%d expected=%d", len(b), RecordSize)
	}
	var r Record
	r.Version = b[0]
	r.Size = binary.LittleEndian.Uint16(b[offSize:])
	r.Claimed = b[offClaimed] != 0
	copy(r.Secret[:], b[offSecret:])
	copy(r.ProjectKey[:], b[offKey:])
	copy(r.HardwareID[:], b[offHardware:])
	r.Checksum = binary.LittleEndian.Uint16(b[offChecksum:])

	if r.Size != RecordSize {
		return errors.NotValidf("nvram record size=%d expected=%d", r.Size, RecordSize)
	}
	if sum := crc.CCITT(b[:offChecksum]); sum != r.Checksum {
		return errors.NotValidf("nvram record checksum=%04x calculated=%04x", r.Checksum, sum)
	}
	*self = r
	return nil
}

func (self Record) encode() [RecordSize]byte {
	var b [RecordSize]byte
	b[0] = self.Version
	binary.LittleEndian.PutUint16(b[offSize:], self.Size)
	if self.Claimed {
		b[offClaimed] = 1
	}
	copy(b[offSecret:], self.Secret[:])
	copy(b[offKey:], self.ProjectKey[:])
	copy(b[offHardware:], self.HardwareID[:])
	binary.LittleEndian.PutUint16(b[offChecksum:], self.Checksum)
	return b
}
