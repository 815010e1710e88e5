package telemqtt

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

type mqttMock struct {
	Opt        *mqtt.ClientOptions
	Pub        chan mockMsg
	ConnectErr error
	open       bool
	subs       []mockSub
}
type mockSub struct {
	Pattern string
	Qos     byte
	Handler mqtt.MessageHandler
}

func newMqttMock() *mqttMock {
	return &mqttMock{
		Pub:  make(chan mockMsg, 32),
		subs: make([]mockSub, 0, 16),
	}
}

func (self *mqttMock) New(opt *mqtt.ClientOptions) mqtt.Client {
	self.Opt = opt
	self.subs = self.subs[:0]
	return self
}

func (self *mqttMock) TestPublish(t testing.TB, topic string, payload []byte) {
	t.Helper()
	for _, sub := range self.subs {
		if topic == sub.Pattern {
			msg := mockMsg{T: topic, P: payload}
			if sub.Qos > 0 {
				msg.acked = make(chan struct{})
			}
			sub.Handler(self, msg)
			if sub.Qos > 0 {
				select {
				case <-msg.acked:
				default:
					t.Errorf("message='%s' handled without Ack()", string(payload))
				}
			}
			return
		}
	}
	t.Errorf("not subscribed for topic=%s", topic)
}

func (self *mqttMock) Disconnect(uint)        { self.open = false }
func (self *mqttMock) IsConnected() bool      { return self.open }
func (self *mqttMock) IsConnectionOpen() bool { return self.open }

func (self *mqttMock) Connect() mqtt.Token {
	self.open = self.ConnectErr == nil
	return mockToken{self.ConnectErr}
}

func (self *mqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	self.Pub <- mockMsg{T: topic, P: payload.([]byte), retained: retain}
	return mockToken{nil}
}

func (self *mqttMock) Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) mqtt.Token {
	self.subs = append(self.subs, mockSub{pattern, qos, handler})
	return mockToken{nil}
}

func (self *mqttMock) AddRoute(string, mqtt.MessageHandler) { panic("not implemented") }

func (self *mqttMock) OptionsReader() mqtt.ClientOptionsReader {
	panic("not implemented")
}

func (self *mqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *mqttMock) Unsubscribe(...string) mqtt.Token { panic("not implemented") }

type mockToken struct{ error }

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return !errors.IsTimeout(tok.error) }
func (tok mockToken) WaitTimeout(time.Duration) bool { return tok.Wait() }

type mockMsg struct {
	T        string
	P        []byte
	retained bool
	acked    chan struct{}
}

func (msg mockMsg) Ack() {
	if msg.acked != nil {
		close(msg.acked)
	}
}

func (msg mockMsg) Duplicate() bool   { return false }
func (msg mockMsg) MessageID() uint16 { return 0 }
func (msg mockMsg) Payload() []byte   { return msg.P }
func (msg mockMsg) Qos() byte         { return 0 }
func (msg mockMsg) Retained() bool    { return msg.retained }
func (msg mockMsg) Topic() string     { return msg.T }
