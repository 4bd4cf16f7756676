// Package cmd wires the urfave/cli/v2 entrypoint: parse argv, load
// config, build the fx.App, run until signalled, shut down cleanly.
// Structured after the teacher's own cmd/cmd.go + cmd/fx.go.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/corehub/internal/config"
)

const (
	ServiceName      = "corehub"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Exit codes per spec §6: 0 success, 1 start failure, 2 fatal runtime
// error, 130 signalled stop.
const (
	ExitOK           = 0
	ExitStartFailure = 1
	ExitFatal        = 2
	ExitSignalled    = 130
)

// Run builds and runs the CLI app, returning the process exit code.
func Run(args []string) int {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Embeddable core server framework runtime",
		Commands: []*cli.Command{
			serverCmd(),
		},
		// The default ExitErrHandler calls os.Exit itself on an
		// ExitCoder error, which would bypass Run's own return-the-code
		// contract (and kill test binaries that exercise it). Disabled
		// so Run is the only place that decides the process exit code.
		ExitErrHandler: func(*cli.Context, error) {},
	}

	if err := app.Run(args); err != nil {
		if code, ok := err.(cli.ExitCoder); ok {
			return code.ExitCode()
		}
		slog.Error("fatal error", "error", err)
		return ExitFatal
	}
	return ExitOK
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the core server loop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config_file", Usage: "Path to the configuration file"},
			&cli.StringFlag{Name: "name", Usage: "Service name"},
			&cli.IntFlag{Name: "fps", Usage: "Ticks per second (1..1000)"},
			&cli.StringFlag{Name: "listen_addr", Usage: "Address to accept inbound connections on"},
			&cli.StringFlag{Name: "log_level", Usage: "Log level (debug|info|warn|error)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(pflagArgs(c))
			if err != nil {
				return cli.Exit(err.Error(), ExitStartFailure)
			}

			logger := newLogger(cfg.LogLevel)
			app := NewApp(cfg, logger)

			if err := app.Start(c.Context); err != nil {
				return cli.Exit(err.Error(), ExitStartFailure)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.Info("shutting down")
			if err := app.Stop(context.Background()); err != nil {
				return cli.Exit(err.Error(), ExitFatal)
			}
			return cli.Exit("", ExitSignalled)
		},
	}
}

// pflagArgs translates urfave/cli's already-parsed flags back into the
// "--flag=value" shape internal/config.Load expects from spf13/pflag, so
// the same Config loader serves both a pure-pflag caller (tests) and this
// cli.App-fronted one. Only flags the user actually set are forwarded, so
// internal/config's own defaults still apply to the rest. Built per-flag
// rather than via a generic c.String(name) loop, since urfave/cli typed
// flags (IntFlag et al.) aren't all safely readable through String().
func pflagArgs(c *cli.Context) []string {
	var out []string
	if c.IsSet("config_file") {
		out = append(out, "--config_file="+c.String("config_file"))
	}
	if c.IsSet("name") {
		out = append(out, "--name="+c.String("name"))
	}
	if c.IsSet("fps") {
		out = append(out, "--fps="+strconv.Itoa(c.Int("fps")))
	}
	if c.IsSet("listen_addr") {
		out = append(out, "--listen_addr="+c.String("listen_addr"))
	}
	if c.IsSet("log_level") {
		out = append(out, "--log_level="+c.String("log_level"))
	}
	return out
}
