// Package console is interactive client shell for development and field diagnostics.
// Every input line performs one service tick before the command.
package console

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/cloudlink/cmd/cloudlink/subcmd"
	"github.com/temoto/cloudlink/config"
	"github.com/temoto/cloudlink/helpers/cli"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/message"
	"github.com/temoto/cloudlink/tele"
	teleclient "github.com/temoto/cloudlink/tele/client"
)

const defaultPrompt = "cloudlink> "

var Mod = subcmd.Mod{Name: "console", Usage: "interactive client shell", Main: Main}

var suggests = []prompt.Suggest{
	{Text: "status", Description: "connection and claim state"},
	{Text: "tick", Description: "tick [n] run service ticks"},
	{Text: "poll", Description: "deliver pending command"},
	{Text: "event", Description: "event NAME [HEX] send named event with packed args"},
	{Text: "claimcode", Description: "print claim code"},
	{Text: "reset-claimcode", Description: "new secret, device must be claimed again"},
	{Text: "reconnect", Description: "drop link and connect"},
}

func Main(ctx context.Context, cfg *config.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	c, err := subcmd.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	if err = c.Connect(ctx, cfg.Tele.ProjectKey, uint16(cfg.Tele.FirmwareVersion)); err != nil {
		log.Errorf("connect err=%v", err)
	}

	sh := &shell{log: log, c: c, buf: message.NewBuffer(512)}
	prefix := cfg.Console.Prompt
	if prefix == "" {
		prefix = defaultPrompt
	}
	return cli.MainLoop(prefix, sh.exec, complete, func() { _ = c.Close() })
}

func complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

type shell struct {
	log *log2.Log
	c   *teleclient.Client
	buf *message.Buffer
}

func (self *shell) exec(line string) {
	ctx := context.Background()
	if err := self.c.Tick(ctx); err != nil {
		self.log.Debugf("tick err=%v", err)
	}
	if err := self.run(ctx, line); err != nil {
		self.log.Error(err)
	}
}

func (self *shell) run(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	switch parts[0] {
	case "status":
		a, assigned := self.c.DeviceAddress()
		addr := "-"
		if assigned {
			addr = a.String()
		}
		self.log.Infof("state=%s claim=%s hw=%s address=%s",
			self.c.ConnectionState(), self.c.ClaimState(), self.c.HardwareAddress(), addr)

	case "tick":
		n := 1
		if len(parts) > 1 {
			var err error
			if n, err = strconv.Atoi(parts[1]); err != nil || n < 1 {
				return errors.NotValidf("tick count=%s", parts[1])
			}
		}
		// first tick was done in exec
		for i := 1; i < n; i++ {
			if err := self.c.Tick(ctx); err != nil {
				return errors.Annotatef(err, "tick %d", i)
			}
		}

	case "poll":
		name, err := self.c.PollCommand(ctx, self.buf, tele.MaxNameLength+1)
		if err != nil {
			return err
		}
		self.log.Infof("command name=%s args=%s", name, describe(self.buf))

	case "event":
		if len(parts) < 2 || len(parts) > 3 {
			return errors.NotValidf("usage: event NAME [HEX]")
		}
		var args []byte
		if len(parts) == 3 {
			var err error
			if args, err = hex.DecodeString(parts[2]); err != nil {
				return errors.NotValidf("event args hex=%s", parts[2])
			}
		}
		return self.c.SendEvent(ctx, parts[1], args)

	case "claimcode":
		code, ok := self.c.Claimcode(true)
		if !ok {
			return errors.New("claim code is not available before identity is loaded")
		}
		self.log.Infof("claimcode=%s claim=%s", code, self.c.ClaimState())

	case "reset-claimcode":
		if err := self.c.ResetClaimcode(); err != nil {
			return err
		}
		code, _ := self.c.Claimcode(true)
		self.log.Infof("claimcode=%s", code)

	case "reconnect":
		return self.c.Reconnect(ctx)

	default:
		return errors.NotFoundf("command=%s", parts[0])
	}
	return nil
}

// describe formats packed values, unknown tail is shown as hex.
func describe(b *message.Buffer) string {
	items := []string{}
	for b.Remaining() > 0 {
		typ, err := b.NextType()
		if err != nil {
			break
		}
		var s string
		switch typ {
		case message.TypeNil:
			err = b.UnpackNil()
			s = "nil"
		case message.TypeBool:
			var v bool
			v, err = b.UnpackBool()
			s = strconv.FormatBool(v)
		case message.TypeInt:
			var v int64
			v, err = b.UnpackInt64()
			s = strconv.FormatInt(v, 10)
			if errors.Cause(err) == message.ErrRange {
				var u uint64
				u, err = b.UnpackUint64()
				s = strconv.FormatUint(u, 10)
			}
		case message.TypeFloat:
			var v float64
			v, err = b.UnpackFloat64()
			s = strconv.FormatFloat(v, 'g', -1, 64)
		case message.TypeRaw:
			var v string
			v, err = b.UnpackString()
			s = strconv.Quote(v)
		case message.TypeArray:
			var n int
			n, err = b.UnpackArray()
			s = fmt.Sprintf("array(%d)", n)
		case message.TypeMap:
			var n int
			n, err = b.UnpackMap()
			s = fmt.Sprintf("map(%d)", n)
		default:
			err = message.ErrType
		}
		if err != nil {
			break
		}
		items = append(items, s)
	}
	if b.Remaining() > 0 {
		rest := b.Bytes()[b.Used()-b.Remaining():]
		items = append(items, fmt.Sprintf("0x%x", rest))
	}
	return "[" + strings.Join(items, " ") + "]"
}
