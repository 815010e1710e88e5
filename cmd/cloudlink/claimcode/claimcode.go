// Package claimcode prints device claim code without network connection.
package claimcode

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/cloudlink/claim"
	"github.com/temoto/cloudlink/cmd/cloudlink/subcmd"
	"github.com/temoto/cloudlink/config"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/cloudlink/nvram"
)

const defaultQRSize = 256

var Mod = subcmd.Mod{Name: "claimcode", Usage: "print claim code [-reset] [-qr file.png]", Main: Main}

func Main(ctx context.Context, cfg *config.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	fs := flag.NewFlagSet("claimcode", flag.ContinueOnError)
	flagReset := fs.Bool("reset", false, "generate new secret, device must be claimed again")
	flagQR := fs.String("qr", "", "write QR code PNG to file")
	if err := fs.Parse(args); err != nil {
		return errors.NotValidf("claimcode args: %v", err)
	}

	tc := &cfg.Tele
	if err := tc.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	identity, err := subcmd.Identity(tc)
	if err != nil {
		return err
	}
	hwid, err := identity.HardwareID()
	if err != nil {
		return errors.Annotate(err, "hardware id")
	}
	keyPolicy, err := nvram.ParseKeyPolicy(tc.KeyChange)
	if err != nil {
		return err
	}
	store := nvram.NewStore(nvram.StoreOptions{
		Storage:   subcmd.Storage(tc, log),
		Offset:    int64(tc.NvramOffset),
		KeyPolicy: keyPolicy,
		Log:       log,
	})
	if *flagReset {
		err = store.Reset(tc.ProjectKey, hwid)
	} else {
		err = store.LoadOrReset(tc.ProjectKey, hwid)
	}
	if err != nil {
		return errors.Annotate(err, "identity")
	}

	code, ok := claim.Code(store.Record().Secret, true)
	if !ok {
		return errors.Errorf("identity secret is empty")
	}
	claimed := "not claimed"
	if store.Record().Claimed {
		claimed = "claimed"
	}
	fmt.Printf("%s %s hw=%s\n", code, claimed, hwid)

	if *flagQR != "" {
		size := cfg.Claimcode.QRSize
		if size == 0 {
			size = defaultQRSize
		}
		if err = qrcode.WriteFile(code, qrcode.Medium, size, *flagQR); err != nil {
			return errors.Annotatef(err, "qr file=%s", *flagQR)
		}
		log.Infof("qr written file=%s", *flagQR)
	} else if isatty.IsTerminal(os.Stdout.Fd()) {
		return WriteTerminalQR(os.Stdout, code)
	}
	return nil
}

// WriteTerminalQR renders QR code with two characters per module.
func WriteTerminalQR(w io.Writer, text string) error {
	qr, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return errors.Annotate(err, "QR")
	}
	b := strings.Builder{}
	for _, row := range qr.Bitmap() {
		for _, black := range row {
			if black {
				b.WriteString("  ")
			} else {
				b.WriteString("██")
			}
		}
		b.WriteRune('\n')
	}
	_, err = io.WriteString(w, b.String())
	return err
}
