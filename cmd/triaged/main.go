package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/daemon"
	"github.com/matheus3301/wpptriage/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides WPPTRIAGE_SESSION)")
	configFlag := flag.String("config", "", "config file (default: session or global config.toml)")
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ConfigPath:  *configFlag,
			HTTPAddr:    *addrFlag,
			Debug:       *debugFlag,
		}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)

	app.Run()
}
