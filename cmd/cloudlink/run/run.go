// Package run is service mode: keep cloud connection, execute commands,
// report to systemd.
package run

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/cloudlink/cmd/cloudlink/subcmd"
	"github.com/temoto/cloudlink/config"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/message"
	"github.com/temoto/cloudlink/nvram"
	"github.com/temoto/cloudlink/tele"
	teleclient "github.com/temoto/cloudlink/tele/client"
)

const (
	tickInterval      = 100 * time.Millisecond
	commandBufferSize = 512
)

var Mod = subcmd.Mod{Name: "run", Usage: "connect and serve cloud commands", Main: Main}

func Main(ctx context.Context, cfg *config.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	var errCount uint32
	log.SetErrorFunc(func(error) { atomic.AddUint32(&errCount, 1) })

	c, err := subcmd.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	a := alive.NewAlive()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			log.Infof("signal=%v stopping", s)
			a.Stop()
		case <-a.StopChan():
		}
	}()

	if err = c.Connect(ctx, cfg.Tele.ProjectKey, uint16(cfg.Tele.FirmwareVersion)); err != nil {
		if errors.Cause(err) == nvram.ErrFault || errors.IsNotValid(err) {
			return err
		}
		// link failure is retried by Tick
		log.Errorf("connect err=%v", err)
	}
	subcmd.SdNotify(daemon.SdNotifyReady)

	var watchdog <-chan time.Time
	if wd, _ := daemon.SdWatchdogEnabled(false); wd != 0 {
		t := time.NewTicker(wd / 2)
		defer t.Stop()
		watchdog = t.C
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	srv := &server{log: log, c: c, buf: message.NewBuffer(commandBufferSize)}
	a.Add(1)
	go func() {
		defer a.Done()
		for a.IsRunning() {
			select {
			case <-a.StopChan():
			case <-watchdog:
				subcmd.SdNotify(daemon.SdNotifyWatchdog)
			case <-ticker.C:
				srv.step(ctx)
			}
		}
	}()
	a.Wait()
	subcmd.SdNotify(daemon.SdNotifyStopping)
	log.Infof("stopped state=%s errors=%d", c.ConnectionState(), atomic.LoadUint32(&errCount))
	return nil
}

type server struct {
	log *log2.Log
	c   *teleclient.Client
	buf *message.Buffer
}

// step is one service tick plus delivery of pending command.
func (self *server) step(ctx context.Context) {
	if err := self.c.Tick(ctx); err != nil {
		self.log.Debugf("tick err=%v", err)
	}
	name, err := self.c.PollCommand(ctx, self.buf, tele.MaxNameLength+1)
	switch errors.Cause(err) {
	case nil:
	case tele.ErrNoCommand:
		return
	default:
		self.log.Errorf("command err=%v", err)
		return
	}
	self.log.Infof("command name=%s args=%x", name, self.buf.Bytes())
	if err = self.handle(ctx, name, self.buf); err != nil {
		self.log.Errorf("command name=%s err=%v", name, err)
	}
}

// handle implements built in commands. Unknown command is only logged,
// success response is already sent on decode.
func (self *server) handle(ctx context.Context, name string, args *message.Buffer) error {
	switch name {
	case "echo":
		return self.c.SendEventBuffer(ctx, "echo", args)

	case "status":
		ev := message.NewBuffer(64)
		a, _ := self.c.DeviceAddress()
		hw := self.c.HardwareAddress()
		if err := ev.PackRaw(hw[:]); err != nil {
			return err
		}
		if err := ev.PackRaw(a[:]); err != nil {
			return err
		}
		if err := ev.PackUint8(uint8(self.c.ClaimState())); err != nil {
			return err
		}
		return self.c.SendEventBuffer(ctx, "status", ev)
	}
	return nil
}
