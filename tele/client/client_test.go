package teleclient

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/message"
	"github.com/temoto/cloudlink/nvram"
	"github.com/temoto/cloudlink/tele"
)

const testKey = "0123456789abcdef0123456789ABCDEF"

var testAddress = tele.Address{1, 2, 3, 4, 5, 6, 7, 8}

type testEnv struct {
	t   *testing.T
	ctx context.Context
	tr  *transportMock
	mem *nvram.MemoryStorage
	now time.Time
	c   *Client
}

func newTestEnv(t *testing.T, opt Options) *testEnv {
	env := &testEnv{
		t:   t,
		ctx: context.Background(),
		tr:  newTransportMock(t),
		mem: nvram.NewMemoryStorage(nvram.RecordSize),
		now: time.Date(2019, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	opt.Transport = env.tr
	opt.Storage = env.mem
	opt.Log = log2.NewTest(t, log2.LDebug)
	opt.Now = func() time.Time { return env.now }
	opt.Entropy = rand.New(rand.NewSource(1))
	env.c = New(opt)
	return env
}

func (self *testEnv) advance(d time.Duration) { self.now = self.now.Add(d) }

func (self *testEnv) in(m *tele.Message) { self.tr.in = append(self.tr.in, m) }

func (self *testEnv) tick() {
	self.t.Helper()
	require.NoError(self.t, self.c.Tick(self.ctx))
}

// connect brings client to Connected state and forgets sent messages.
func (self *testEnv) connect() {
	self.t.Helper()
	require.NoError(self.t, self.c.Connect(self.ctx, testKey, 7))
	self.tr.push(1, tele.EncodeSetAddress(testAddress))
	self.tick()
	require.Equal(self.t, tele.StateConnected, self.c.ConnectionState())
	self.tr.takeOut()
}

func namedCommand(t testing.TB, name string, args []byte) []byte {
	b, err := tele.EncodeNamedCommand(name, args)
	require.NoError(t, err)
	return b
}

func assertResponses(t testing.TB, out []*tele.Message, expect ...string) {
	t.Helper()
	actual := make([]string, 0, len(out))
	for _, m := range out {
		require.Equal(t, tele.MessageResponse, m.Kind, "message=%s", m)
		actual = append(actual, fmt.Sprintf("%d:%02x", m.CommandID, m.ReturnCode))
	}
	assert.Equal(t, expect, actual)
}

func TestConnectMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{ResetCode: 3})

	require.NoError(t, env.c.Connect(env.ctx, testKey, 0x0105))
	assert.Equal(t, tele.StateConnecting, env.c.ConnectionState())
	assert.Equal(t, tele.NotClaimed, env.c.ClaimState())
	assert.Equal(t, env.tr.hw, env.c.HardwareAddress())
	out := env.tr.takeOut()
	require.Len(t, out, 1)
	require.Equal(t, tele.MessageConnect, out[0].Kind)
	code, ok := env.c.Claimcode(false)
	require.True(t, ok)
	assert.Equal(t, &tele.ConnectInfo{
		HardwareType:    DefaultHardwareType,
		LibraryVersion:  tele.LibraryVersion,
		ResetCode:       3,
		ProjectKey:      testKey,
		FirmwareVersion: 0x0105,
		Secret:          code,
	}, out[0].Connect)
	assert.Len(t, code, 16)
	assert.Equal(t, 1, env.mem.Writes, "identity must be created")

	_, ok = env.c.DeviceAddress()
	assert.False(t, ok)
}

func TestConnectInvalidKey(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	err := env.c.Connect(env.ctx, "short", 1)
	assert.True(t, errors.IsNotValid(err), "err=%v", err)
	assert.Equal(t, 0, env.tr.dials)
	assert.Equal(t, tele.ErrInvalidArg, errors.Cause(env.c.Reconnect(env.ctx)))
	assert.NoError(t, env.c.Tick(env.ctx))
	assert.Equal(t, 0, env.tr.dials)
}

func TestLinkFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.tr.dialErr = fmt.Errorf("connection refused")

	err := env.c.Connect(env.ctx, testKey, 1)
	assert.Equal(t, tele.ErrLinkFailure, errors.Cause(err))
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	assert.Equal(t, 0, env.mem.Writes, "storage must be untouched")
	assert.Empty(t, env.tr.out)
}

func TestSendConnectFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.tr.sendErr = fmt.Errorf("broken pipe")

	err := env.c.Connect(env.ctx, testKey, 1)
	assert.Equal(t, tele.ErrLinkFailure, errors.Cause(err))
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	assert.False(t, env.tr.up, "transport must be closed")
}

func TestZeroHardwareID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.tr.hw = tele.EUI64{}

	err := env.c.Connect(env.ctx, testKey, 1)
	assert.Equal(t, tele.ErrInvalidArg, errors.Cause(err))
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	assert.Equal(t, 0, env.mem.Writes)
}

func TestNvramFault(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.mem.Fail = fmt.Errorf("i/o error")

	err := env.c.Connect(env.ctx, testKey, 1)
	require.Error(t, err)
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	assert.Empty(t, env.tr.out, "connect message must not be sent")
	_, ok := env.c.Claimcode(true)
	assert.False(t, ok)
}

func TestSetAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		frame     []byte
		expect    tele.ConnectionState
		expectRet byte
		claimed   bool
	}{
		{"valid", tele.EncodeSetAddress(testAddress), tele.StateConnected, tele.ReturnSuccess, true},
		{"zero", tele.EncodeSetAddress(tele.Address{}), tele.StateConnecting, tele.ReturnFailure, false},
		{"short", tele.EncodeSetAddress(testAddress)[:20], tele.StateConnecting, tele.ReturnFailure, false},
		{"header-only", tele.EncodeCommand(tele.CommandSetAddress, nil), tele.StateConnecting, tele.ReturnFailure, false},
		{"truncated-header", []byte{0, 0, 0, 0xb0}, tele.StateConnecting, tele.ReturnFailure, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, Options{})
			require.NoError(t, env.c.Connect(env.ctx, testKey, 1))
			env.tr.takeOut()

			env.tr.push(9, c.frame)
			env.tick()
			assert.Equal(t, c.expect, env.c.ConnectionState())
			assertResponses(t, env.tr.takeOut(), fmt.Sprintf("9:%02x", c.expectRet))
			assert.Equal(t, c.claimed, env.c.ClaimState() == tele.Claimed)
			a, ok := env.c.DeviceAddress()
			assert.Equal(t, c.claimed, ok)
			if ok {
				assert.Equal(t, testAddress, a)
			}
		})
	}
}

func TestClaimedPersists(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()
	require.Equal(t, tele.Claimed, env.c.ClaimState())
	writes := env.mem.Writes

	// second SET_ADDRESS on same link does not rewrite record
	env.tr.push(2, tele.EncodeSetAddress(testAddress))
	env.tick()
	assert.Equal(t, writes, env.mem.Writes)

	// new client over same storage loads claimed identity
	c2 := New(Options{Transport: env.tr, Storage: env.mem, Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, c2.Connect(env.ctx, testKey, 1))
	assert.Equal(t, tele.Claimed, c2.ClaimState())
	code1, _ := env.c.Claimcode(true)
	code2, _ := c2.Claimcode(true)
	assert.Equal(t, code1, code2)
}

func TestClaimWriteFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.c.Connect(env.ctx, testKey, 1))
	env.tr.takeOut()

	env.mem.FailWrite = fmt.Errorf("i/o error")
	env.tr.push(1, tele.EncodeSetAddress(testAddress))
	require.Error(t, env.c.Tick(env.ctx))
	assertResponses(t, env.tr.takeOut(), "1:00")
	assert.Equal(t, tele.StateConnected, env.c.ConnectionState())
	assert.Equal(t, tele.NotClaimed, env.c.ClaimState())

	env.mem.FailWrite = nil
	env.tr.push(2, tele.EncodeSetAddress(testAddress))
	env.tick()
	assert.Equal(t, tele.Claimed, env.c.ClaimState())
}

func TestKeepaliveTimeout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{KeepaliveInterval: time.Minute})
	env.connect()

	env.tr.keepalives = 2
	env.advance(30 * time.Second)
	env.tick()
	assert.Equal(t, tele.StateConnected, env.c.ConnectionState())

	// pings in previous interval keep link
	env.advance(31 * time.Second)
	env.tick()
	assert.Equal(t, tele.StateConnected, env.c.ConnectionState())

	// silent interval
	env.advance(61 * time.Second)
	env.tr.push(5, namedCommand(t, "lost", nil))
	env.tick()
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	assert.False(t, env.tr.up)
	_, ok := env.c.DeviceAddress()
	assert.False(t, ok)
}

func TestLinkDownReconnect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()
	env.tr.push(3, namedCommand(t, "pending", nil))
	env.tick()
	require.Equal(t, 1, env.tr.dials)

	env.tr.up = false
	env.tick()
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	_, err := env.c.PollCommand(env.ctx, message.NewBuffer(64), 32)
	assert.Equal(t, tele.ErrNoCommand, errors.Cause(err), "pending command must be dropped")
	assert.Empty(t, env.tr.takeOut(), "dropped command gets no response on dead link")

	env.tick()
	assert.Equal(t, 2, env.tr.dials)
	assert.Equal(t, tele.StateConnecting, env.c.ConnectionState())
	// claimed flag survives reconnect, address does not
	assert.Equal(t, tele.Claimed, env.c.ClaimState())
}

func TestReconnectBackoff(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{RetryDelay: 5 * time.Second})
	env.tr.dialErr = fmt.Errorf("no route to host")

	require.Error(t, env.c.Connect(env.ctx, testKey, 1))
	require.Equal(t, 1, env.tr.dials)

	env.tick()
	assert.Equal(t, 1, env.tr.dials, "attempt before retry delay")
	env.advance(5 * time.Second)
	assert.Error(t, env.c.Tick(env.ctx))
	assert.Equal(t, 2, env.tr.dials)

	// delay grows after second failure
	env.advance(5 * time.Second)
	env.tick()
	assert.Equal(t, 2, env.tr.dials)
	env.advance(5 * time.Second)
	env.tr.dialErr = nil
	env.tick()
	assert.Equal(t, 3, env.tr.dials)
	assert.Equal(t, tele.StateConnecting, env.c.ConnectionState())
}

func TestPollCommand(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()

	args := message.NewBuffer(16)
	require.NoError(t, args.PackUint16(1000))
	require.NoError(t, args.PackString("x"))
	env.tr.push(10, namedCommand(t, "setSpeed", args.Bytes()))
	env.tick()
	assert.Empty(t, env.tr.out, "response is sent on poll")

	buf := message.NewBuffer(64)
	name, err := env.c.PollCommand(env.ctx, buf, 32)
	require.NoError(t, err)
	assert.Equal(t, "setSpeed", name)
	speed, err := buf.UnpackUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), speed)
	s, err := buf.UnpackString()
	require.NoError(t, err)
	assert.Equal(t, "x", s)
	assertResponses(t, env.tr.takeOut(), "10:00")

	_, err = env.c.PollCommand(env.ctx, buf, 32)
	assert.Equal(t, tele.ErrNoCommand, errors.Cause(err))
	assert.Equal(t, 0, buf.Used())
	assert.Empty(t, env.tr.out)
}

func TestPollCommandRaw(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()

	env.tr.push(11, namedCommand(t, "abcdef", []byte{0xc3}))
	env.tick()
	dst := make([]byte, 32)
	name, n, err := env.c.PollCommandRaw(env.ctx, dst, 4)
	require.NoError(t, err)
	assert.Equal(t, "abc", name)
	assert.Equal(t, []byte{0xc3}, dst[:n])
	assertResponses(t, env.tr.takeOut(), "11:00")
}

func TestPollCommandErrors(t *testing.T) {
	t.Parallel()

	t.Run("name-capacity", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		env.connect()
		env.tr.push(12, namedCommand(t, "go", nil))
		env.tick()
		_, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 1)
		assert.Equal(t, tele.ErrInvalidArg, errors.Cause(err))
		_, _, err = env.c.PollCommandRaw(env.ctx, make([]byte, 8), 0)
		assert.Equal(t, tele.ErrInvalidArg, errors.Cause(err))
		assert.Empty(t, env.tr.out, "command must not be consumed")
		name, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 2)
		require.NoError(t, err)
		assert.Equal(t, "g", name)
		assertResponses(t, env.tr.takeOut(), "12:00")
	})

	t.Run("buffer-too-small", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		env.connect()
		env.tr.push(13, namedCommand(t, "big", bytes.Repeat([]byte{1}, 20)))
		env.tick()
		_, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 32)
		assert.Equal(t, message.ErrCapacity, errors.Cause(err))
		assertResponses(t, env.tr.takeOut(), "13:ff")
		_, err = env.c.PollCommand(env.ctx, message.NewBuffer(8), 32)
		assert.Equal(t, tele.ErrNoCommand, errors.Cause(err), "failed command is consumed")
	})

	t.Run("not-named", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		env.connect()
		env.tr.push(14, tele.EncodeCommand(tele.CommandStartPacked|0x05, []byte{0x01}))
		env.tick()
		_, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 32)
		assert.Equal(t, tele.ErrDecode, errors.Cause(err))
		assertResponses(t, env.tr.takeOut(), "14:ff")
	})

	t.Run("name-tag", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		env.connect()
		env.tr.push(15, tele.EncodeCommand(tele.CommandNamedPacked, []byte{0x9f, 0x01}))
		env.tick()
		_, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 32)
		assert.Equal(t, tele.ErrDecode, errors.Cause(err))
		assertResponses(t, env.tr.takeOut(), "15:ff")
	})
}

func TestPendingPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		policy      PendingPolicy
		expectResp  string
		expectName  string
		expectFinal string
	}{
		{PendingReject, "21:ff", "first", "20:00"},
		{PendingReplace, "20:ff", "second", "21:00"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.policy.String(), func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, Options{PendingPolicy: c.policy})
			env.connect()
			env.tr.push(20, namedCommand(t, "first", nil))
			env.tr.push(21, namedCommand(t, "second", nil))
			env.tick()
			assert.Empty(t, env.tr.out)
			env.tick()
			assertResponses(t, env.tr.takeOut(), c.expectResp)

			name, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 32)
			require.NoError(t, err)
			assert.Equal(t, c.expectName, name)
			assertResponses(t, env.tr.takeOut(), c.expectFinal)
		})
	}
}

func TestParsePendingPolicy(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "reject", "replace"} {
		p, err := ParsePendingPolicy(s)
		require.NoError(t, err)
		if s != "" {
			assert.Equal(t, s, p.String())
		}
	}
	_, err := ParsePendingPolicy("queue")
	assert.True(t, errors.IsNotValid(err))
}

func TestCommandWhileConnecting(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	require.NoError(t, env.c.Connect(env.ctx, testKey, 1))
	env.tr.takeOut()

	env.tr.push(30, namedCommand(t, "early", nil))
	env.tr.push(31, tele.EncodeCommand(tele.CommandDisplayText, []byte("hi")))
	env.tick()
	env.tick()
	assertResponses(t, env.tr.takeOut(), "30:ff", "31:ff")
	_, err := env.c.PollCommand(env.ctx, message.NewBuffer(8), 32)
	assert.Equal(t, tele.ErrNoCommand, errors.Cause(err))
}

func TestUnsupportedCommandConnected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()
	env.tr.push(32, tele.EncodeCommand(tele.CommandFirmwareMbed, nil))
	env.in(&tele.Message{Kind: tele.MessageEvent})
	env.tick()
	env.tick()
	assertResponses(t, env.tr.takeOut(), "32:ff")
}

func TestSendEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()

	args := message.NewBuffer(8)
	require.NoError(t, args.PackUint8(1))
	require.NoError(t, env.c.SendEventBuffer(env.ctx, "x", args))
	out := env.tr.takeOut()
	require.Len(t, out, 1)
	assert.Equal(t, tele.MessageEvent, out[0].Kind)
	expect, _ := tele.EncodeNamedEvent("x", []byte{0x01})
	assert.Equal(t, expect, out[0].Payload)

	err := env.c.SendEvent(env.ctx, "", nil)
	assert.Equal(t, tele.ErrInvalidArg, errors.Cause(err))
	assert.Empty(t, env.tr.out)

	env.tr.sendErr = fmt.Errorf("timeout")
	assert.Error(t, env.c.SendEvent(env.ctx, "x", nil))
}

func TestSendEventSuppressed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{RetryDelay: time.Second})

	// before Connect there are no credentials, nothing is dialed
	err := env.c.SendEvent(env.ctx, "x", nil)
	assert.Equal(t, tele.ErrNotConnected, errors.Cause(err))
	assert.Equal(t, 0, env.tr.dials)

	require.NoError(t, env.c.Connect(env.ctx, testKey, 1))
	env.tr.takeOut()
	err = env.c.SendEvent(env.ctx, "x", nil)
	assert.Equal(t, tele.ErrNotClaimed, errors.Cause(err))
	assert.Empty(t, env.tr.out)

	env.tr.up = false
	env.tick()
	require.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	dials := env.tr.dials
	err = env.c.SendEvent(env.ctx, "x", nil)
	assert.Equal(t, tele.ErrNotConnected, errors.Cause(err))
	assert.Equal(t, dials+1, env.tr.dials, "event triggers reconnect attempt")
	out := env.tr.takeOut()
	require.Len(t, out, 1)
	assert.Equal(t, tele.MessageConnect, out[0].Kind, "event itself is dropped")

	// failed attempt starts retry delay, events in that window do not dial
	env.tr.up = false
	env.tick()
	env.tr.dialErr = fmt.Errorf("refused")
	dials = env.tr.dials
	err = env.c.SendEvent(env.ctx, "x", nil)
	assert.Equal(t, tele.ErrNotConnected, errors.Cause(err))
	assert.Equal(t, dials+1, env.tr.dials)
	err = env.c.SendEvent(env.ctx, "x", nil)
	assert.Equal(t, tele.ErrNotConnected, errors.Cause(err))
	assert.Equal(t, dials+1, env.tr.dials, "no dial during retry delay")
}

func TestResetClaimcode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()
	before, ok := env.c.Claimcode(true)
	require.True(t, ok)
	assert.Len(t, before, 19)

	require.NoError(t, env.c.ResetClaimcode())
	after, ok := env.c.Claimcode(true)
	require.True(t, ok)
	assert.NotEqual(t, before, after)
	assert.Equal(t, tele.NotClaimed, env.c.ClaimState())
}

func TestClose(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.connect()
	require.NoError(t, env.c.Close())
	assert.Equal(t, tele.StateDisconnected, env.c.ConnectionState())
	assert.False(t, env.tr.up)
}
