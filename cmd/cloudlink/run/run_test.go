package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/message"
	"github.com/temoto/cloudlink/nvram"
	"github.com/temoto/cloudlink/tele"
	teleclient "github.com/temoto/cloudlink/tele/client"
)

// loopback is transport answering connect with SET_ADDRESS.
type loopback struct {
	in  []*tele.Message
	out []*tele.Message
}

func (self *loopback) Dial(context.Context) error { return nil }
func (self *loopback) LinkUp() bool               { return true }
func (self *loopback) Keepalives() int            { return 1 }
func (self *loopback) Close() error               { return nil }
func (self *loopback) Send(_ context.Context, m *tele.Message) error {
	if m.Kind == tele.MessageConnect {
		self.in = append(self.in, &tele.Message{Kind: tele.MessageCommand, CommandID: 1,
			Payload: tele.EncodeSetAddress(tele.Address{1, 2, 3, 4, 5, 6, 7, 8})})
	}
	self.out = append(self.out, m)
	return nil
}
func (self *loopback) Poll() (*tele.Message, error) {
	if len(self.in) == 0 {
		return nil, nil
	}
	m := self.in[0]
	self.in = self.in[1:]
	return m, nil
}

func TestServerEcho(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := log2.NewTest(t, log2.LDebug)
	tr := &loopback{}
	c := teleclient.New(teleclient.Options{
		Transport: tr,
		Identity:  tele.StaticIdentity{2, 0, 0, 0xff, 0xfe, 0, 0, 1},
		Storage:   nvram.NewMemoryStorage(nvram.RecordSize),
		Log:       log,
	})
	require.NoError(t, c.Connect(ctx, "0123456789abcdef0123456789ABCDEF", 1))
	srv := &server{log: log, c: c, buf: message.NewBuffer(commandBufferSize)}
	srv.step(ctx)
	require.Equal(t, tele.StateConnected, c.ConnectionState())

	frame, err := tele.EncodeNamedCommand("echo", []byte{0xc3})
	require.NoError(t, err)
	tr.in = append(tr.in, &tele.Message{Kind: tele.MessageCommand, CommandID: 2, Payload: frame})
	tr.out = nil
	srv.step(ctx)
	require.Len(t, tr.out, 2)
	assert.Equal(t, tele.MessageResponse, tr.out[0].Kind)
	assert.Equal(t, tele.ReturnSuccess, tr.out[0].ReturnCode)
	expect, err := tele.EncodeNamedEvent("echo", []byte{0xc3})
	require.NoError(t, err)
	assert.Equal(t, tele.MessageEvent, tr.out[1].Kind)
	assert.Equal(t, expect, tr.out[1].Payload)

	// nothing pending
	tr.out = nil
	srv.step(ctx)
	assert.Empty(t, tr.out)
}
