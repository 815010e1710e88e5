// Package telemqtt is tele.Transport over MQTT broker.
// Topics are <prefix>/<hardware address>/{up,down,online}.
// Broker keepalive is handled by paho, open connection counts as keepalive.
package telemqtt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/cloudlink/internal/syncutil"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/tele"
)

const (
	DefaultTopicPrefix = "bergcloud"

	defaultInBuffer       = 16
	defaultNetworkTimeout = 30 * time.Second
	defaultKeepAlive      = 60 * time.Second
	disconnectQuiesce     = 250 // ms
)

type Options struct {
	Broker      string
	TopicPrefix string
	Identity    tele.HardwareIdentity
	Log         *log2.Log
	LogDebug    bool
	// KeepAlive is MQTT PINGREQ interval. Paho owns liveness of this transport:
	// Keepalives reports open connection as a keepalive, so client liveness
	// check never drops the link, only paho connection lost does.
	KeepAlive      time.Duration
	NetworkTimeout time.Duration
	InBuffer       int
	// NewClient replaces paho client constructor in tests.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

type Transport struct { //nolint:maligned
	log            *log2.Log
	broker         string
	topicPrefix    string
	identity       tele.HardwareIdentity
	keepAlive      time.Duration
	networkTimeout time.Duration
	newClient      func(*mqtt.ClientOptions) mqtt.Client

	mu          syncutil.Mutex
	m           mqtt.Client
	in          chan *tele.Message
	hw          tele.EUI64
	topicUp     string
	topicDown   string
	topicOnline string

	up       uint32 // atomic
	received int32  // atomic
}

var _ tele.Transport = &Transport{}
var _ tele.HardwareIdentity = &Transport{}

func New(opt Options) *Transport {
	if opt.Broker == "" {
		panic("code error telemqtt.New Broker empty")
	}
	if opt.Identity == nil {
		panic("code error telemqtt.New Identity=nil")
	}
	if opt.TopicPrefix == "" {
		opt.TopicPrefix = DefaultTopicPrefix
	}
	if opt.KeepAlive == 0 {
		opt.KeepAlive = defaultKeepAlive
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = defaultNetworkTimeout
	}
	if opt.InBuffer == 0 {
		opt.InBuffer = defaultInBuffer
	}
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}

	// paho loggers are package globals
	mqttLog := opt.Log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if opt.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	return &Transport{
		log:            opt.Log,
		broker:         opt.Broker,
		topicPrefix:    opt.TopicPrefix,
		identity:       opt.Identity,
		keepAlive:      opt.KeepAlive,
		networkTimeout: opt.NetworkTimeout,
		newClient:      opt.NewClient,
		in:             make(chan *tele.Message, opt.InBuffer),
	}
}

func (self *Transport) HardwareID() (tele.EUI64, error) { return self.identity.HardwareID() }

func (self *Transport) Dial(ctx context.Context) error {
	if err := self.Close(); err != nil {
		self.log.Debugf("telemqtt: close previous err=%v", err)
	}
	hw, err := self.identity.HardwareID()
	if err != nil {
		return errors.Annotate(err, "telemqtt: hardware id")
	}
	base := fmt.Sprintf("%s/%s", self.topicPrefix, hw)
	topicUp, topicDown, topicOnline := base+"/up", base+"/down", base+"/online"

	mopt := mqtt.NewClientOptions().
		AddBroker(self.broker).
		SetAutoReconnect(false).
		SetBinaryWill(topicOnline, []byte{'0'}, 1, true).
		SetCleanSession(true).
		SetClientID(hw.String()).
		SetConnectTimeout(self.networkTimeout).
		SetConnectionLostHandler(self.connectionLost).
		SetDefaultPublishHandler(self.unexpected).
		SetKeepAlive(self.keepAlive).
		SetOrderMatters(false).
		SetPingTimeout(self.networkTimeout).
		SetWriteTimeout(self.networkTimeout)
	m := self.newClient(mopt)

	if err = self.tokenWait(ctx, m.Connect(), "connect"); err != nil {
		return err
	}
	if err = self.tokenWait(ctx, m.Subscribe(topicDown, 1, self.onMessage), "subscribe:"+topicDown); err != nil {
		m.Disconnect(disconnectQuiesce)
		return err
	}
	if err = self.tokenWait(ctx, m.Publish(topicOnline, 1, true, []byte{'1'}), "publish online"); err != nil {
		m.Disconnect(disconnectQuiesce)
		return err
	}

	self.mu.Lock()
	self.m, self.hw = m, hw
	self.topicUp, self.topicDown, self.topicOnline = topicUp, topicDown, topicOnline
	self.mu.Unlock()
	atomic.StoreInt32(&self.received, 0)
	atomic.StoreUint32(&self.up, 1)
	self.log.Infof("telemqtt: connected broker=%s topic=%s", self.broker, base)
	return nil
}

func (self *Transport) LinkUp() bool { return atomic.LoadUint32(&self.up) == 1 }

func (self *Transport) Send(ctx context.Context, m *tele.Message) error {
	self.mu.Lock()
	client, hw, topic := self.m, self.hw, self.topicUp
	self.mu.Unlock()
	if client == nil || !self.LinkUp() {
		return tele.ErrNotConnected
	}
	b, err := tele.MarshalEnvelope(m, hw)
	if err != nil {
		return err
	}
	self.log.Debugf("telemqtt: publish topic=%s %s", topic, b)
	return self.tokenWait(ctx, client.Publish(topic, 1, false, b), "publish")
}

// Poll returns next received message or nil without blocking.
func (self *Transport) Poll() (*tele.Message, error) {
	select {
	case m := <-self.in:
		return m, nil
	default:
		return nil, nil
	}
}

// Keepalives counts received messages plus one for open connection.
func (self *Transport) Keepalives() int {
	n := int(atomic.SwapInt32(&self.received, 0))
	self.mu.Lock()
	m := self.m
	self.mu.Unlock()
	if m != nil && self.LinkUp() && m.IsConnectionOpen() {
		n++
	}
	return n
}

func (self *Transport) Close() error {
	self.mu.Lock()
	m := self.m
	self.m = nil
	self.mu.Unlock()
	atomic.StoreUint32(&self.up, 0)
	if m == nil {
		return nil
	}
	// drain messages of closed session
	for len(self.in) > 0 {
		<-self.in
	}
	m.Disconnect(disconnectQuiesce)
	return nil
}

func (self *Transport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	defer msg.Ack()
	atomic.AddInt32(&self.received, 1)
	m, err := tele.UnmarshalEnvelope(msg.Payload())
	if err != nil {
		self.log.Errorf("telemqtt: topic=%s err=%v", msg.Topic(), err)
		return
	}
	select {
	case self.in <- m:
	default:
		self.log.Errorf("telemqtt: inbound queue full, dropped %s", m)
	}
}

func (self *Transport) unexpected(_ mqtt.Client, msg mqtt.Message) {
	self.log.Errorf("telemqtt: unexpected message topic=%s payload=%x", msg.Topic(), msg.Payload())
}

func (self *Transport) connectionLost(_ mqtt.Client, err error) {
	atomic.StoreUint32(&self.up, 0)
	self.log.Errorf("telemqtt: connection lost err=%v", err)
}

func (self *Transport) tokenWait(ctx context.Context, t mqtt.Token, tag string) error {
	var ok bool
	if deadline, has := ctx.Deadline(); has {
		ok = t.WaitTimeout(time.Until(deadline))
	} else {
		ok = t.Wait()
	}
	if !ok {
		err := errors.Timeoutf("telemqtt: %s", tag)
		self.log.Error(err)
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotatef(err, "telemqtt: %s", tag)
		self.log.Error(err)
		return err
	}
	return nil
}
