// Package telews is tele.Transport over websocket to cloud bridge.
// Messages are JSON envelopes in text frames. Server pings are counted
// as keepalives.
package telews

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/cloudlink/internal/syncutil"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/tele"
)

const (
	defaultInBuffer = 16
	pongTimeout     = 5 * time.Second
	closeTimeout    = time.Second
)

type Options struct {
	URL      string
	Protocol string
	// Host overrides HTTP Host header.
	Host     string
	Identity tele.HardwareIdentity
	Log      *log2.Log
	InBuffer int
}

type Transport struct { //nolint:maligned
	log      *log2.Log
	url      string
	protocol string
	host     string
	identity tele.HardwareIdentity
	inBuffer int
	dialer   websocket.Dialer

	mu    syncutil.Mutex
	conn  *websocket.Conn
	alive *alive.Alive
	in    chan *tele.Message
	hw    tele.EUI64

	up       uint32 // atomic
	pings    int32  // atomic
	lastRecv atomic_clock.Clock
}

var _ tele.Transport = &Transport{}
var _ tele.HardwareIdentity = &Transport{}

func New(opt Options) *Transport {
	if opt.URL == "" {
		panic("code error telews.New URL empty")
	}
	if opt.Identity == nil {
		panic("code error telews.New Identity=nil")
	}
	if opt.InBuffer == 0 {
		opt.InBuffer = defaultInBuffer
	}
	self := &Transport{
		log:      opt.Log,
		url:      opt.URL,
		protocol: opt.Protocol,
		host:     opt.Host,
		identity: opt.Identity,
		inBuffer: opt.InBuffer,
	}
	if opt.Protocol != "" {
		self.dialer.Subprotocols = []string{opt.Protocol}
	}
	return self
}

func (self *Transport) HardwareID() (tele.EUI64, error) { return self.identity.HardwareID() }

func (self *Transport) Dial(ctx context.Context) error {
	if err := self.Close(); err != nil {
		self.log.Debugf("telews: close previous err=%v", err)
	}
	hw, err := self.identity.HardwareID()
	if err != nil {
		return errors.Annotate(err, "telews: hardware id")
	}

	header := http.Header{}
	if self.host != "" {
		header.Set("Host", self.host)
	}
	self.log.Debugf("telews: dial url=%s protocol=%s", self.url, self.protocol)
	conn, resp, err := self.dialer.DialContext(ctx, self.url, header)
	if err != nil {
		if resp != nil {
			return errors.Annotatef(err, "telews: dial url=%s status=%s", self.url, resp.Status)
		}
		return errors.Annotatef(err, "telews: dial url=%s", self.url)
	}
	if self.protocol != "" && conn.Subprotocol() != self.protocol {
		_ = conn.Close()
		return errors.Errorf("telews: server refused protocol=%s", self.protocol)
	}
	conn.SetPingHandler(func(data string) error {
		atomic.AddInt32(&self.pings, 1)
		self.lastRecv.SetNow()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pongTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		} else if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})

	a := alive.NewAlive()
	in := make(chan *tele.Message, self.inBuffer)
	a.Add(1)
	self.mu.Lock()
	self.conn, self.alive, self.in, self.hw = conn, a, in, hw
	self.mu.Unlock()
	self.lastRecv.SetNow()
	atomic.StoreUint32(&self.up, 1)
	go self.reader(a, conn, in)
	self.log.Infof("telews: connected url=%s", self.url)
	return nil
}

func (self *Transport) reader(a *alive.Alive, conn *websocket.Conn, in chan<- *tele.Message) {
	defer a.Done()
	defer atomic.StoreUint32(&self.up, 0)
	for {
		typ, b, err := conn.ReadMessage()
		if err != nil {
			if !a.IsRunning() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				self.log.Debugf("telews: read stop err=%v", err)
			} else {
				self.log.Errorf("telews: read err=%v", err)
			}
			return
		}
		self.lastRecv.SetNow()
		if typ != websocket.TextMessage {
			self.log.Debugf("telews: ignore frame type=%d length=%d", typ, len(b))
			continue
		}
		m, err := tele.UnmarshalEnvelope(b)
		if err != nil {
			self.log.Errorf("telews: inbound err=%v", err)
			continue
		}
		select {
		case in <- m:
		case <-a.StopChan():
			return
		}
	}
}

func (self *Transport) LinkUp() bool { return atomic.LoadUint32(&self.up) == 1 }

// Send writes envelope, ctx deadline limits write time.
func (self *Transport) Send(ctx context.Context, m *tele.Message) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.conn == nil || !self.LinkUp() {
		return tele.ErrNotConnected
	}
	b, err := tele.MarshalEnvelope(m, self.hw)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err = self.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Annotate(err, "telews: set write deadline")
	}
	self.log.Debugf("telews: send %s", b)
	if err = self.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		atomic.StoreUint32(&self.up, 0)
		return errors.Annotate(err, "telews: send")
	}
	return nil
}

// Poll returns next received message or nil without blocking.
func (self *Transport) Poll() (*tele.Message, error) {
	self.mu.Lock()
	in := self.in
	self.mu.Unlock()
	if in == nil {
		return nil, nil
	}
	select {
	case m := <-in:
		return m, nil
	default:
		return nil, nil
	}
}

func (self *Transport) Keepalives() int { return int(atomic.SwapInt32(&self.pings, 0)) }

// SinceReceive is time passed since last frame or ping from server.
func (self *Transport) SinceReceive() time.Duration { return atomic_clock.Since(&self.lastRecv) }

func (self *Transport) Close() error {
	self.mu.Lock()
	conn, a := self.conn, self.alive
	self.conn, self.alive, self.in = nil, nil, nil
	self.mu.Unlock()
	if conn == nil {
		return nil
	}
	atomic.StoreUint32(&self.up, 0)
	a.Stop()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	err := conn.Close()
	a.Wait()
	return err
}
