package tele

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type MessageKind uint8

const (
	MessageInvalid MessageKind = iota
	MessageConnect
	MessageEvent
	MessageCommand
	MessageResponse
)

func (k MessageKind) String() string {
	switch k {
	case MessageConnect:
		return "connect"
	case MessageEvent:
		return "event"
	case MessageCommand:
		return "command"
	case MessageResponse:
		return "response"
	}
	return fmt.Sprintf("MessageKind(%d)", k)
}

// Message is one unit exchanged with cloud bridge.
// Payload is binary frame: event header+body for MessageEvent,
// command header+body for MessageCommand.
type Message struct {
	Kind       MessageKind
	CommandID  uint32
	ReturnCode byte
	Payload    []byte
	Connect    *ConnectInfo
}

type ConnectInfo struct {
	HardwareType    string
	LibraryVersion  uint32
	ResetCode       uint32
	ProjectKey      string
	FirmwareVersion uint16
	// Secret is claim code without hyphens.
	Secret string
}

func (self *Message) String() string {
	if self == nil {
		return "<nil>"
	}
	switch self.Kind {
	case MessageCommand:
		return fmt.Sprintf("command id=%d payload=%x", self.CommandID, self.Payload)
	case MessageResponse:
		return fmt.Sprintf("response id=%d code=%02x", self.CommandID, self.ReturnCode)
	case MessageConnect:
		return fmt.Sprintf("connect %#v", self.Connect)
	}
	return fmt.Sprintf("%s payload=%x", self.Kind, self.Payload)
}

// JSON envelope types understood by cloud bridge.
const (
	envWifiEvent       = "WifiEvent"
	envDeviceEvent     = "DeviceEvent"
	envDeviceCommand   = "DeviceCommand"
	envCommandResponse = "DeviceCommandResponse"
)

type envelope struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`

	ClientHardwareType   string  `json:"client_hardware_type,omitempty"`
	ClientLibraryVersion uint32  `json:"client_library_version,omitempty"`
	HardwareAddress      string  `json:"hardware_address,omitempty"`
	ResetDescriptionCode *uint32 `json:"reset_description_code,omitempty"`
	DeveloperProjectKey  string  `json:"developer_project_key,omitempty"`
	DeveloperVersion     *uint16 `json:"developer_version,omitempty"`
	Secret               string  `json:"secret,omitempty"`

	BridgeAddress string  `json:"bridge_address,omitempty"`
	DeviceAddress string  `json:"device_address,omitempty"`
	CommandID     *uint32 `json:"command_id,omitempty"`
	ReturnCode    *uint32 `json:"return_code,omitempty"`
	BinaryPayload *string `json:"binary_payload,omitempty"`
	Timestamp     *uint32 `json:"timestamp,omitempty"`
}

// MarshalEnvelope encodes message as JSON text frame. hw is sender hardware address.
func MarshalEnvelope(m *Message, hw EUI64) ([]byte, error) {
	var zero uint32
	e := envelope{}
	switch m.Kind {
	case MessageConnect:
		if m.Connect == nil {
			return nil, errors.Annotate(ErrInvalidArg, "connect message without info")
		}
		c := m.Connect
		e.Type = envWifiEvent
		e.Name = "connect"
		e.ClientHardwareType = c.HardwareType
		e.ClientLibraryVersion = c.LibraryVersion
		e.HardwareAddress = hw.String()
		e.ResetDescriptionCode = &c.ResetCode
		e.DeveloperProjectKey = c.ProjectKey
		e.DeveloperVersion = &c.FirmwareVersion
		e.Secret = c.Secret

	case MessageEvent:
		p := base64.StdEncoding.EncodeToString(m.Payload)
		e.Type = envDeviceEvent
		e.BridgeAddress = hw.String()
		e.DeviceAddress = hw.String()
		e.BinaryPayload = &p
		e.Timestamp = &zero

	case MessageCommand:
		p := base64.StdEncoding.EncodeToString(m.Payload)
		id := m.CommandID
		e.Type = envDeviceCommand
		e.CommandID = &id
		e.BinaryPayload = &p

	case MessageResponse:
		id, code := m.CommandID, uint32(m.ReturnCode)
		e.Type = envCommandResponse
		e.BridgeAddress = hw.String()
		e.DeviceAddress = hw.String()
		e.CommandID = &id
		e.ReturnCode = &code
		e.Timestamp = &zero

	default:
		return nil, errors.Annotatef(ErrInvalidArg, "message kind=%s", m.Kind)
	}
	return json.Marshal(&e)
}

// UnmarshalEnvelope decodes JSON text frame. Unknown envelope type is ErrDecode.
func UnmarshalEnvelope(b []byte) (*Message, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Annotatef(ErrDecode, "json: %v", err)
	}
	m := &Message{}
	switch e.Type {
	case envDeviceCommand:
		if e.CommandID == nil || e.BinaryPayload == nil {
			return nil, errors.Annotate(ErrDecode, "command without id or payload")
		}
		payload, err := decodePayload(*e.BinaryPayload)
		if err != nil {
			return nil, err
		}
		m.Kind = MessageCommand
		m.CommandID = *e.CommandID
		m.Payload = payload

	case envDeviceEvent:
		if e.BinaryPayload == nil {
			return nil, errors.Annotate(ErrDecode, "event without payload")
		}
		payload, err := decodePayload(*e.BinaryPayload)
		if err != nil {
			return nil, err
		}
		m.Kind = MessageEvent
		m.Payload = payload

	case envCommandResponse:
		if e.CommandID == nil || e.ReturnCode == nil {
			return nil, errors.Annotate(ErrDecode, "response without id or code")
		}
		m.Kind = MessageResponse
		m.CommandID = *e.CommandID
		m.ReturnCode = byte(*e.ReturnCode)

	case envWifiEvent:
		m.Kind = MessageConnect
		m.Connect = &ConnectInfo{
			HardwareType:   e.ClientHardwareType,
			LibraryVersion: e.ClientLibraryVersion,
			ProjectKey:     e.DeveloperProjectKey,
			Secret:         e.Secret,
		}
		if e.ResetDescriptionCode != nil {
			m.Connect.ResetCode = *e.ResetDescriptionCode
		}
		if e.DeveloperVersion != nil {
			m.Connect.FirmwareVersion = *e.DeveloperVersion
		}

	default:
		return nil, errors.Annotatef(ErrDecode, "envelope type=%q", e.Type)
	}
	return m, nil
}

func decodePayload(s string) ([]byte, error) {
	s = strings.Replace(s, "\n", "", -1)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Annotatef(ErrDecode, "base64: %v", err)
	}
	return b, nil
}
