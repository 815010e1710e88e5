package teleclient

import (
	"context"
	"testing"

	"github.com/temoto/cloudlink/tele"
)

type transportMock struct {
	t          testing.TB
	hw         tele.EUI64
	hwErr      error
	dials      int
	dialErr    error
	sendErr    error
	up         bool
	keepalives int
	in         []*tele.Message
	out        []*tele.Message
}

func newTransportMock(t testing.TB) *transportMock {
	return &transportMock{
		t:  t,
		hw: tele.EUI64{0x02, 0x11, 0x22, 0xff, 0xfe, 0x33, 0x44, 0x55},
	}
}

func (self *transportMock) Dial(ctx context.Context) error {
	self.dials++
	if self.dialErr != nil {
		self.t.Logf("mock dial err=%v", self.dialErr)
		return self.dialErr
	}
	self.up = true
	return nil
}

func (self *transportMock) LinkUp() bool { return self.up }

func (self *transportMock) Send(ctx context.Context, m *tele.Message) error {
	if self.sendErr != nil {
		self.t.Logf("mock send err=%v", self.sendErr)
		return self.sendErr
	}
	self.t.Logf("mock delivered %s", m)
	self.out = append(self.out, m)
	return nil
}

func (self *transportMock) Poll() (*tele.Message, error) {
	if len(self.in) == 0 {
		return nil, nil
	}
	m := self.in[0]
	self.in = self.in[1:]
	return m, nil
}

func (self *transportMock) Keepalives() int {
	n := self.keepalives
	self.keepalives = 0
	return n
}

func (self *transportMock) Close() error {
	self.up = false
	return nil
}

func (self *transportMock) HardwareID() (tele.EUI64, error) { return self.hw, self.hwErr }

func (self *transportMock) push(id uint32, frame []byte) {
	self.in = append(self.in, &tele.Message{Kind: tele.MessageCommand, CommandID: id, Payload: frame})
}

// takeOut returns and forgets sent messages.
func (self *transportMock) takeOut() []*tele.Message {
	out := self.out
	self.out = nil
	return out
}
