// Package claim derives human readable pairing code from device secret.
package claim

import (
	"github.com/temoto/cloudlink/crc"
)

const (
	SecretSize = 8
	// Groups is number of base32 characters in code.
	Groups = 16
	// Alphabet excludes visually ambiguous a, i, l, u.
	Alphabet = "0123456789bcdefghjkmnopqrstvwxyz"
)

type Secret [SecretSize]byte

func (self Secret) IsZero() bool { return self == Secret{} }

// Code returns claim code for secret. With hyphens, groups of 4 characters
// are separated by '-'. Zero secret means device is not provisioned:
// ok=false and empty code.
func Code(secret Secret, hyphens bool) (code string, ok bool) {
	if secret.IsZero() {
		return "", false
	}

	var data [SecretSize + 2]byte
	copy(data[:], secret[:])
	sum := crc.CCITT(secret[:])
	data[SecretSize] = byte(sum)
	data[SecretSize+1] = byte(sum >> 8)

	// bit 0 of byte 0 goes first into group 0
	var groups [Groups]byte
	for i := 0; i < len(data)*8; i++ {
		if data[i/8]&(1<<uint(i%8)) != 0 {
			groups[i/5] |= 1 << uint(i%5)
		}
	}

	buf := make([]byte, 0, Groups+Groups/4-1)
	for i := Groups - 1; i >= 0; i-- {
		if hyphens && i != Groups-1 && (i+1)%4 == 0 {
			buf = append(buf, '-')
		}
		buf = append(buf, Alphabet[groups[i]])
	}
	return string(buf), true
}
