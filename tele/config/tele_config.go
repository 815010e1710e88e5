// Separate package is workaround to import cycles.
package tele_config

import (
	"net"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/helpers"
)

const (
	DefaultURL       = "ws://bridge.bergcloud.com:80/api/v1/connection"
	DefaultProtocol  = "bergcloud-bridge-v1"
	DefaultNvramPath = "/var/lib/cloudlink/nvram"

	TransportWebsocket = "websocket"
	TransportMqtt      = "mqtt"
)

type Config struct { //nolint:maligned
	ProjectKey        string `hcl:"project_key"` // secret
	FirmwareVersion   int    `hcl:"firmware_version"`
	Transport         string `hcl:"transport"`
	URL               string `hcl:"url"`
	Protocol          string `hcl:"protocol"`
	Host              string `hcl:"host"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttTopicPrefix   string `hcl:"mqtt_topic_prefix"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	RetryDelaySec     int    `hcl:"retry_delay_sec"`
	KeyChange         string `hcl:"key_change"`
	PendingCommand    string `hcl:"pending_command"`
	NvramPath         string `hcl:"nvram_path"`
	NvramOffset       int    `hcl:"nvram_offset"`
	Interface         string `hcl:"interface"`
	MAC               string `hcl:"mac"`
	HardwareType      string `hcl:"hardware_type"`
	LogDebug          bool   `hcl:"log_debug"`
}

// Validate checks fields which can not be defaulted.
func (self *Config) Validate() error {
	var errs []error
	if len(self.ProjectKey) != 32 {
		errs = append(errs, errors.NotValidf("tele project_key length=%d expected=32", len(self.ProjectKey)))
	}
	if self.FirmwareVersion < 0 || self.FirmwareVersion > 0xffff {
		errs = append(errs, errors.NotValidf("tele firmware_version=%d", self.FirmwareVersion))
	}
	switch self.Transport {
	case "", TransportWebsocket:
	case TransportMqtt:
		if self.MqttBroker == "" {
			errs = append(errs, errors.NotValidf("tele transport=mqtt mqtt_broker=empty"))
		}
	default:
		errs = append(errs, errors.NotValidf("tele transport=%s", self.Transport))
	}
	switch self.KeyChange {
	case "", "reclaim", "adopt":
	default:
		errs = append(errs, errors.NotValidf("tele key_change=%s", self.KeyChange))
	}
	switch self.PendingCommand {
	case "", "reject", "replace":
	default:
		errs = append(errs, errors.NotValidf("tele pending_command=%s", self.PendingCommand))
	}
	if self.MAC != "" {
		if _, err := net.ParseMAC(self.MAC); err != nil {
			errs = append(errs, errors.NotValidf("tele mac=%s", self.MAC))
		}
	}
	if self.MAC == "" && self.Interface == "" {
		errs = append(errs, errors.NotValidf("tele hardware identity requires interface or mac"))
	}
	return helpers.FoldErrors(errs)
}

func (self *Config) URLOrDefault() string {
	if self.URL == "" {
		return DefaultURL
	}
	return self.URL
}

func (self *Config) NvramPathOrDefault() string {
	if self.NvramPath == "" {
		return DefaultNvramPath
	}
	return self.NvramPath
}

func (self *Config) ProtocolOrDefault() string {
	if self.Protocol == "" {
		return DefaultProtocol
	}
	return self.Protocol
}
