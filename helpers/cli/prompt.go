package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop runs exec for every input line. Terminal gets interactive prompt
// with completion, otherwise lines are read from stdin until EOF.
// onSignal is called once on SIGINT/SIGTERM/SIGHUP/SIGQUIT, then process exits.
func MainLoop(prefix string, exec func(line string), complete prompt.Completer, onSignal func()) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		if _, ok := <-signalCh; ok {
			if onSignal != nil {
				onSignal()
			}
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionPrefix(prefix),
			prompt.OptionTitle(strings.TrimSpace(prefix)),
		).Run()
		return nil
	}
	return ScriptLoop(os.Stdin, exec)
}

// ScriptLoop calls exec for every non-empty line of r.
func ScriptLoop(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exec(line)
	}
	return scanner.Err()
}
