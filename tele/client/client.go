// Package teleclient is device side connection and claim state machine.
//
// Client owns transport link, identity record and single pending command slot.
// It is driven by application loop calling Tick, all methods must be called
// from that one goroutine.
//
// State is derived from two flags: link established (transport dialed,
// identity loaded, connect message sent) and device address assigned by
// SET_ADDRESS command. Both set is Connected, link only is Connecting.
package teleclient

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/claim"
	"github.com/temoto/cloudlink/helpers"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/nvram"
	"github.com/temoto/cloudlink/tele"
)

const (
	DefaultKeepaliveInterval = 60 * time.Second
	DefaultNetworkTimeout    = 30 * time.Second
	DefaultRetryDelay        = 5 * time.Second
	DefaultRetryDelayMax     = 5 * time.Minute
	DefaultHardwareType      = "linux"
)

type Options struct {
	Transport tele.Transport
	// Identity default is Transport when it implements tele.HardwareIdentity.
	Identity      tele.HardwareIdentity
	Storage       nvram.Storage
	StorageOffset int64
	Entropy       io.Reader
	Log           *log2.Log
	Now           func() time.Time

	KeepaliveInterval time.Duration
	NetworkTimeout    time.Duration
	RetryDelay        time.Duration
	KeyPolicy         nvram.KeyPolicy
	PendingPolicy     PendingPolicy
	HardwareType      string
	ResetCode         uint32
}

type Client struct { //nolint:maligned
	log       *log2.Log
	transport tele.Transport
	identity  tele.HardwareIdentity
	store     *nvram.Store
	now       func() time.Time
	backoff   helpers.Backoff

	keepaliveInterval time.Duration
	networkTimeout    time.Duration
	pendingPolicy     PendingPolicy
	hardwareType      string
	resetCode         uint32

	key     string
	version uint16
	hwid    tele.EUI64
	address tele.Address

	linkEstablished bool
	addressAssigned bool
	keepaliveStart  time.Time
	keepalives      int

	slot slot
}

func New(opt Options) *Client {
	if opt.Transport == nil {
		panic("code error teleclient.New Transport=nil")
	}
	if opt.Storage == nil {
		panic("code error teleclient.New Storage=nil")
	}
	if opt.Identity == nil {
		id, ok := opt.Transport.(tele.HardwareIdentity)
		if !ok {
			panic("code error teleclient.New Identity=nil and transport does not provide it")
		}
		opt.Identity = id
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.KeepaliveInterval == 0 {
		opt.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.RetryDelay == 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	if opt.HardwareType == "" {
		opt.HardwareType = DefaultHardwareType
	}
	self := &Client{
		log:       opt.Log,
		transport: opt.Transport,
		identity:  opt.Identity,
		store: nvram.NewStore(nvram.StoreOptions{
			Storage:   opt.Storage,
			Offset:    opt.StorageOffset,
			Entropy:   opt.Entropy,
			KeyPolicy: opt.KeyPolicy,
			Log:       opt.Log,
		}),
		now: opt.Now,
		backoff: helpers.Backoff{
			Min: opt.RetryDelay,
			Max: DefaultRetryDelayMax,
			K:   2,
			Res: time.Second,
			Now: opt.Now,
		},
		keepaliveInterval: opt.KeepaliveInterval,
		networkTimeout:    opt.NetworkTimeout,
		pendingPolicy:     opt.PendingPolicy,
		hardwareType:      opt.HardwareType,
		resetCode:         opt.ResetCode,
	}
	return self
}

// Connect stores credentials and performs Reconnect.
func (self *Client) Connect(ctx context.Context, projectKey string, version uint16) error {
	if len(projectKey) != nvram.KeySize {
		return errors.NotValidf("project key length=%d expected=%d", len(projectKey), nvram.KeySize)
	}
	self.key = projectKey
	self.version = version
	return self.Reconnect(ctx)
}

// Reconnect drops pending command and link, then dials transport, loads or
// repairs identity and sends connect message. On any failure state stays
// Disconnected and transport is closed.
func (self *Client) Reconnect(ctx context.Context) error {
	if self.key == "" {
		return errors.Annotate(tele.ErrInvalidArg, "Reconnect before Connect")
	}
	self.linkDown("reconnect")

	err := self.reconnect(ctx)
	if err != nil {
		if cerr := self.transport.Close(); cerr != nil {
			self.log.Debugf("tele: close after failed reconnect err=%v", cerr)
		}
		self.backoff.Failure()
		self.log.Errorf("tele: reconnect err=%v next attempt in %v", err, self.backoff.DelayBefore())
		return err
	}
	self.linkEstablished = true
	self.keepaliveStart = self.now()
	self.keepalives = 0
	self.backoff.Reset()
	self.log.Infof("tele: link established hw=%s claim=%s", self.hwid, self.ClaimState())
	return nil
}

func (self *Client) reconnect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, self.networkTimeout)
	defer cancel()
	if err := self.transport.Dial(dialCtx); err != nil {
		return errors.Annotatef(tele.ErrLinkFailure, "dial: %v", err)
	}
	// discard pings counted by previous link
	_ = self.transport.Keepalives()

	hwid, err := self.identity.HardwareID()
	if err != nil {
		return errors.Annotate(err, "hardware id")
	}
	if hwid.IsZero() {
		return errors.Annotate(tele.ErrInvalidArg, "hardware id=zero")
	}
	if err = self.store.LoadOrReset(self.key, hwid); err != nil {
		return errors.Annotate(err, "identity")
	}
	self.hwid = hwid

	secret, _ := claim.Code(self.store.Record().Secret, false)
	m := &tele.Message{
		Kind: tele.MessageConnect,
		Connect: &tele.ConnectInfo{
			HardwareType:    self.hardwareType,
			LibraryVersion:  tele.LibraryVersion,
			ResetCode:       self.resetCode,
			ProjectKey:      self.key,
			FirmwareVersion: self.version,
			Secret:          secret,
		},
	}
	if err = self.transport.Send(dialCtx, m); err != nil {
		return errors.Annotatef(tele.ErrLinkFailure, "connect message: %v", err)
	}
	return nil
}

// Tick is periodic service: one of reconnect attempt, link drop by liveness
// check or one inbound message. Never blocks longer than network timeout.
func (self *Client) Tick(ctx context.Context) error {
	if self.key == "" {
		return nil
	}
	if !self.linkEstablished {
		return self.tryReconnect(ctx)
	}
	if !self.checkLiveness() {
		return nil
	}
	return self.pollInbound(ctx)
}

// checkLiveness returns false when link was dropped.
func (self *Client) checkLiveness() bool {
	if !self.transport.LinkUp() {
		self.disconnect("link down")
		return false
	}
	self.keepalives += self.transport.Keepalives()
	now := self.now()
	if now.Sub(self.keepaliveStart) <= self.keepaliveInterval {
		return true
	}
	if self.keepalives == 0 {
		self.disconnect("no keepalive")
		return false
	}
	self.keepaliveStart = now
	self.keepalives = 0
	return true
}

// tryReconnect is non-blocking in the sense of backoff: attempt is skipped
// until retry delay passed since previous failure.
func (self *Client) tryReconnect(ctx context.Context) error {
	if !self.backoff.Ready() {
		return nil
	}
	return self.Reconnect(ctx)
}

func (self *Client) disconnect(reason string) {
	self.log.Infof("tele: disconnected (%s)", reason)
	self.linkDown(reason)
	if err := self.transport.Close(); err != nil {
		self.log.Debugf("tele: close err=%v", err)
	}
}

func (self *Client) linkDown(reason string) {
	if p, ok := self.slot.take(); ok {
		self.log.Infof("tele: pending command id=%d dropped (%s)", p.id, reason)
	}
	self.linkEstablished = false
	self.addressAssigned = false
}

func (self *Client) ConnectionState() tele.ConnectionState {
	switch {
	case self.linkEstablished && self.addressAssigned:
		return tele.StateConnected
	case self.linkEstablished:
		return tele.StateConnecting
	}
	return tele.StateDisconnected
}

func (self *Client) ClaimState() tele.ClaimState {
	if self.store.Record().Claimed {
		return tele.Claimed
	}
	return tele.NotClaimed
}

// Claimcode returns false until identity is loaded or created.
func (self *Client) Claimcode(hyphens bool) (string, bool) {
	return claim.Code(self.store.Record().Secret, hyphens)
}

// ResetClaimcode generates new secret, device becomes unclaimed.
func (self *Client) ResetClaimcode() error {
	hwid := self.hwid
	if hwid.IsZero() {
		var err error
		if hwid, err = self.identity.HardwareID(); err != nil {
			return errors.Annotate(err, "hardware id")
		}
	}
	return errors.Annotate(self.store.Reset(self.key, hwid), "reset claimcode")
}

// DeviceAddress returns address assigned by cloud, false when not assigned on current link.
func (self *Client) DeviceAddress() (tele.Address, bool) {
	return self.address, self.addressAssigned
}

func (self *Client) HardwareAddress() tele.EUI64 { return self.hwid }

func (self *Client) Close() error {
	self.linkDown("close")
	return self.transport.Close()
}
