// Package tele defines device-cloud protocol: command and event framing,
// JSON envelope carried by transports and collaborator interfaces
// used by client state machine.
package tele

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/juju/errors"
)

var (
	ErrLinkFailure  = fmt.Errorf("link failure")
	ErrNotConnected = fmt.Errorf("not connected")
	ErrNotClaimed   = fmt.Errorf("not claimed")
	ErrNoCommand    = fmt.Errorf("no command")
	ErrInvalidArg   = fmt.Errorf("invalid argument")
	ErrDecode       = fmt.Errorf("protocol decode error")
)

// Transport carries messages between device and cloud bridge.
// Dial establishes network link and socket, blocks at most until ctx deadline.
// Poll never blocks, nil,nil means nothing received.
// Keepalives returns number of protocol keepalive signals (websocket ping)
// received since previous call. After Close, Dial may be called again.
type Transport interface {
	Dial(ctx context.Context) error
	LinkUp() bool
	Send(ctx context.Context, m *Message) error
	Poll() (*Message, error)
	Keepalives() int
	Close() error
}

type HardwareIdentity interface {
	HardwareID() (EUI64, error)
}

type ConnectionState uint8

const (
	StateConnected    ConnectionState = 0
	StateConnecting   ConnectionState = 1
	StateDisconnected ConnectionState = 2
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnecting:
		return "connecting"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("ConnectionState(%d)", s)
}

type ClaimState uint8

const (
	Claimed    ClaimState = 0
	NotClaimed ClaimState = 1
)

func (s ClaimState) String() string {
	if s == Claimed {
		return "claimed"
	}
	return "not-claimed"
}

// EUI64 is hardware identity.
type EUI64 [8]byte

func (e EUI64) String() string { return hex.EncodeToString(e[:]) }
func (e EUI64) IsZero() bool   { return e == EUI64{} }

// EUI64FromMAC converts MAC-48 per RFC2373: flip universal/local bit, insert fffe.
func EUI64FromMAC(mac net.HardwareAddr) (EUI64, error) {
	var e EUI64
	if len(mac) != 6 {
		return e, errors.Annotatef(ErrInvalidArg, "mac=%s length=%d", mac, len(mac))
	}
	zero := true
	for _, b := range mac {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return e, errors.Annotate(ErrInvalidArg, "mac=zero")
	}
	e = EUI64{mac[0] ^ 0x02, mac[1], mac[2], 0xff, 0xfe, mac[3], mac[4], mac[5]}
	return e, nil
}

// Address is device address assigned by cloud.
type Address [AddressSize]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }
func (a Address) IsZero() bool   { return a == Address{} }

// StaticIdentity serves fixed hardware id.
type StaticIdentity EUI64

func (s StaticIdentity) HardwareID() (EUI64, error) { return EUI64(s), nil }

// InterfaceIdentity derives hardware id from network interface MAC.
type InterfaceIdentity struct{ Name string }

func (self InterfaceIdentity) HardwareID() (EUI64, error) {
	iface, err := net.InterfaceByName(self.Name)
	if err != nil {
		return EUI64{}, errors.Annotatef(err, "interface=%s", self.Name)
	}
	return EUI64FromMAC(iface.HardwareAddr)
}
