package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/cloudlink/cmd/cloudlink/claimcode"
	"github.com/temoto/cloudlink/cmd/cloudlink/console"
	"github.com/temoto/cloudlink/cmd/cloudlink/run"
	"github.com/temoto/cloudlink/cmd/cloudlink/subcmd"
	"github.com/temoto/cloudlink/config"
	"github.com/temoto/cloudlink/log2"
)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	claimcode.Mod,
}

func main() {
	flagConfig := flag.String("config", "cloudlink.hcl", "")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config=cloudlink.hcl] command [args]\nCommands:\n%s\n",
			os.Args[0], subcmd.Usage(modules))
		flag.PrintDefaults()
	}
	flag.Parse()

	log := log2.NewStderr(log2.LDebug)
	if subcmd.SdNotify("STATUS=starting") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	mod, err := subcmd.Parse(flag.Arg(0), modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	cfg := config.MustReadConfig(log, config.NewOsFullReader(), *flagConfig)
	if !cfg.LogDebug {
		log.SetLevel(log2.LInfo)
	}
	ctx := context.WithValue(context.Background(), log2.ContextKey, log)

	if err := mod.Main(ctx, cfg, flag.Args()[1:]); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
