package subcmd

import (
	"context"
	"net"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/config"
	"github.com/temoto/cloudlink/helpers"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/nvram"
	"github.com/temoto/cloudlink/tele"
	teleclient "github.com/temoto/cloudlink/tele/client"
	tele_config "github.com/temoto/cloudlink/tele/config"
	telemqtt "github.com/temoto/cloudlink/tele/mqtt"
	telews "github.com/temoto/cloudlink/tele/ws"
)

// Identity returns hardware identity from explicit mac or network interface.
func Identity(tc *tele_config.Config) (tele.HardwareIdentity, error) {
	if tc.MAC != "" {
		mac, err := net.ParseMAC(tc.MAC)
		if err != nil {
			return nil, errors.NotValidf("tele mac=%s", tc.MAC)
		}
		hw, err := tele.EUI64FromMAC(mac)
		if err != nil {
			return nil, err
		}
		return tele.StaticIdentity(hw), nil
	}
	return tele.InterfaceIdentity{Name: tc.Interface}, nil
}

func Storage(tc *tele_config.Config, log *log2.Log) nvram.Storage {
	return nvram.NewFileStorage(tc.NvramPathOrDefault(), tc.NvramOffset+nvram.RecordSize, log)
}

func Transport(tc *tele_config.Config, identity tele.HardwareIdentity, log *log2.Log) tele.Transport {
	switch tc.Transport {
	case tele_config.TransportMqtt:
		return telemqtt.New(telemqtt.Options{
			Broker:         tc.MqttBroker,
			TopicPrefix:    tc.MqttTopicPrefix,
			Identity:       identity,
			Log:            log,
			LogDebug:       tc.MqttLogDebug,
			KeepAlive:      helpers.IntSecondDefault(tc.KeepaliveSec, teleclient.DefaultKeepaliveInterval),
			NetworkTimeout: helpers.IntSecondDefault(tc.NetworkTimeoutSec, teleclient.DefaultNetworkTimeout),
		})
	}
	return telews.New(telews.Options{
		URL:      tc.URLOrDefault(),
		Protocol: tc.ProtocolOrDefault(),
		Host:     tc.Host,
		Identity: identity,
		Log:      log,
	})
}

// NewClient builds client with transport and storage from config.
// Connect is left to caller.
func NewClient(ctx context.Context, cfg *config.Config) (*teleclient.Client, error) {
	log := log2.ContextValueLogger(ctx)
	tc := &cfg.Tele
	if err := tc.Validate(); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	identity, err := Identity(tc)
	if err != nil {
		return nil, errors.Annotate(err, "config")
	}
	keyPolicy, err := nvram.ParseKeyPolicy(tc.KeyChange)
	if err != nil {
		return nil, errors.Annotate(err, "config")
	}
	pendingPolicy, err := teleclient.ParsePendingPolicy(tc.PendingCommand)
	if err != nil {
		return nil, errors.Annotate(err, "config")
	}

	teleLog := log
	if tc.LogDebug {
		teleLog = log.Clone(log2.LDebug)
	}
	c := teleclient.New(teleclient.Options{
		Transport:         Transport(tc, identity, teleLog),
		Identity:          identity,
		Storage:           Storage(tc, teleLog),
		StorageOffset:     int64(tc.NvramOffset),
		Log:               teleLog,
		KeepaliveInterval: helpers.IntSecondDefault(tc.KeepaliveSec, teleclient.DefaultKeepaliveInterval),
		NetworkTimeout:    helpers.IntSecondDefault(tc.NetworkTimeoutSec, teleclient.DefaultNetworkTimeout),
		RetryDelay:        helpers.IntSecondDefault(tc.RetryDelaySec, teleclient.DefaultRetryDelay),
		KeyPolicy:         keyPolicy,
		PendingPolicy:     pendingPolicy,
		HardwareType:      tc.HardwareType,
	})
	return c, nil
}
