package teleclient

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/message"
	"github.com/temoto/cloudlink/tele"
)

// PendingPolicy decides what happens to application command arriving
// while previous one is not polled yet.
type PendingPolicy uint8

const (
	// PendingReject sends failure response for new command.
	PendingReject PendingPolicy = iota
	// PendingReplace sends failure response for old command and keeps new one.
	PendingReplace
)

func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch s {
	case "", "reject":
		return PendingReject, nil
	case "replace":
		return PendingReplace, nil
	}
	return PendingReject, errors.NotValidf("pending_command=%s", s)
}

func (p PendingPolicy) String() string {
	if p == PendingReplace {
		return "replace"
	}
	return "reject"
}

type pending struct {
	id    uint32
	frame []byte
}

// slot holds at most one pending command.
type slot struct{ p *pending }

func (self *slot) full() bool { return self.p != nil }

func (self *slot) put(p *pending) { self.p = p }

// take empties slot, ownership of command passes to caller.
func (self *slot) take() (*pending, bool) {
	p := self.p
	self.p = nil
	return p, p != nil
}

func (self *Client) pollInbound(ctx context.Context) error {
	m, err := self.transport.Poll()
	if err != nil {
		return errors.Annotate(err, "tele: poll")
	}
	if m == nil {
		return nil
	}
	if m.Kind != tele.MessageCommand {
		self.log.Debugf("tele: ignore inbound %s", m)
		return nil
	}
	return self.handleCommand(ctx, m)
}

func (self *Client) handleCommand(ctx context.Context, m *tele.Message) error {
	typ, err := tele.CommandType(m.Payload)
	if err != nil {
		self.log.Errorf("tele: command id=%d err=%v", m.CommandID, err)
		return self.respond(ctx, m.CommandID, false)
	}
	self.log.Debugf("tele: command id=%d type=%04x length=%d", m.CommandID, typ, len(m.Payload))

	switch {
	case tele.IsApplicationCommand(typ) && self.ConnectionState() == tele.StateConnected:
		return self.admit(ctx, m)

	case typ == tele.CommandSetAddress:
		return self.setAddress(ctx, m)
	}
	self.log.Infof("tele: command id=%d type=%04x state=%s not accepted", m.CommandID, typ, self.ConnectionState())
	return self.respond(ctx, m.CommandID, false)
}

func (self *Client) admit(ctx context.Context, m *tele.Message) error {
	p := &pending{id: m.CommandID, frame: m.Payload}
	if !self.slot.full() {
		self.slot.put(p)
		return nil
	}
	switch self.pendingPolicy {
	case PendingReplace:
		old, _ := self.slot.take()
		self.slot.put(p)
		self.log.Infof("tele: pending command id=%d replaced by id=%d", old.id, p.id)
		return self.respond(ctx, old.id, false)

	default:
		self.log.Infof("tele: command id=%d rejected, id=%d is pending", p.id, self.slot.p.id)
		return self.respond(ctx, p.id, false)
	}
}

func (self *Client) setAddress(ctx context.Context, m *tele.Message) error {
	a, err := tele.ParseSetAddress(m.Payload)
	if err != nil {
		self.log.Errorf("tele: set address id=%d err=%v", m.CommandID, err)
		return self.respond(ctx, m.CommandID, false)
	}
	if a.IsZero() {
		self.log.Errorf("tele: set address id=%d address=zero", m.CommandID)
		return self.respond(ctx, m.CommandID, false)
	}
	self.address = a
	self.addressAssigned = true
	self.log.Infof("tele: connected address=%s", a)
	claimErr := self.store.MarkClaimed()
	if claimErr != nil {
		claimErr = errors.Annotate(claimErr, "tele: mark claimed")
		self.log.Error(claimErr)
	}
	if err = self.respond(ctx, m.CommandID, true); err != nil {
		return err
	}
	return claimErr
}

// PollCommand decodes pending named command into buf, returns command name
// truncated to nameCap-1 bytes. Response is sent for every consumed command:
// success when decoded, failure otherwise. ErrNoCommand when slot is empty.
func (self *Client) PollCommand(ctx context.Context, buf *message.Buffer, nameCap int) (string, error) {
	if nameCap < 2 {
		return "", errors.Annotatef(tele.ErrInvalidArg, "name capacity=%d", nameCap)
	}
	p, ok := self.slot.take()
	if !ok {
		buf.Clear()
		return "", tele.ErrNoCommand
	}
	name, err := tele.DecodeNamedCommandBuffer(buf, p.frame, nameCap)
	self.finish(ctx, p, err)
	return name, err
}

// PollCommandRaw is PollCommand into caller slice, returns argument length.
func (self *Client) PollCommandRaw(ctx context.Context, dst []byte, nameCap int) (string, int, error) {
	if nameCap < 2 {
		return "", 0, errors.Annotatef(tele.ErrInvalidArg, "name capacity=%d", nameCap)
	}
	p, ok := self.slot.take()
	if !ok {
		return "", 0, tele.ErrNoCommand
	}
	name, n, err := tele.DecodeNamedCommand(dst, p.frame, nameCap)
	self.finish(ctx, p, err)
	return name, n, err
}

func (self *Client) finish(ctx context.Context, p *pending, decodeErr error) {
	if decodeErr != nil {
		self.log.Errorf("tele: command id=%d decode err=%v", p.id, decodeErr)
	}
	// send error is logged in respond, command is consumed anyway
	_ = self.respond(ctx, p.id, decodeErr == nil)
}

func (self *Client) respond(ctx context.Context, id uint32, success bool) error {
	code := tele.ReturnFailure
	if success {
		code = tele.ReturnSuccess
	}
	sendCtx, cancel := context.WithTimeout(ctx, self.networkTimeout)
	defer cancel()
	err := self.transport.Send(sendCtx, &tele.Message{Kind: tele.MessageResponse, CommandID: id, ReturnCode: code})
	if err != nil {
		err = errors.Annotatef(err, "tele: response id=%d code=%02x", id, code)
		self.log.Error(err)
	}
	return err
}

// SendEvent sends named event, args are packed arguments.
// Events are best effort: while Connecting ErrNotClaimed, while Disconnected
// reconnect attempt is made and ErrNotConnected returned, event is dropped.
// That reconnect is skipped during retry delay, otherwise it blocks the
// caller up to NetworkTimeout like Reconnect.
func (self *Client) SendEvent(ctx context.Context, name string, args []byte) error {
	frame, err := tele.EncodeNamedEvent(name, args)
	if err != nil {
		return err
	}
	switch self.ConnectionState() {
	case tele.StateConnecting:
		return errors.Annotatef(tele.ErrNotClaimed, "event=%s dropped", name)

	case tele.StateDisconnected:
		if err = self.tryReconnect(ctx); err != nil {
			self.log.Debugf("tele: event=%s reconnect err=%v", name, err)
		}
		return errors.Annotatef(tele.ErrNotConnected, "event=%s dropped", name)
	}

	sendCtx, cancel := context.WithTimeout(ctx, self.networkTimeout)
	defer cancel()
	if err = self.transport.Send(sendCtx, &tele.Message{Kind: tele.MessageEvent, Payload: frame}); err != nil {
		return errors.Annotatef(err, "tele: event=%s", name)
	}
	return nil
}

func (self *Client) SendEventBuffer(ctx context.Context, name string, buf *message.Buffer) error {
	return self.SendEvent(ctx, name, buf.Bytes())
}
