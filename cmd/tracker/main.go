// Command tracker is the firmware transmission-core entrypoint: it wires
// the configuration store, depth pile, event bus, scheduler, packet
// builder, modem driver, TX service, DTE console, and operational FSM into
// one running process. Grounded on cmd/ntrip-server/main.go's flag
// parsing, logrus setup, and signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/argos-tracker/internal/config"
)

func main() {
	configPath := flag.String("config", "tracker-config.dat", "path to the on-flash configuration file")
	modemPort := flag.String("modem-port", "/dev/ttyUSB0", "serial port the satellite modem is attached to")
	modemBaud := flag.Int("modem-baud", 9600, "serial baud rate for the satellite modem")
	dtePassword := flag.String("dte-password", "", "SECUR password required before DTE write commands (empty disables auth)")
	dteListen := flag.String("dte-listen", "127.0.0.1:7878", "TCP address the DTE console listens on")
	dryRun := flag.Bool("dry-run", false, "use an in-memory fake modem instead of a real serial device")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("tracker: invalid log level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	store, err := config.OpenFileStore(*configPath)
	if err != nil {
		logger.Fatalf("tracker: opening config store: %v", err)
	}

	app, err := buildApp(store, *modemPort, *modemBaud, *dtePassword, *dteListen, *dryRun, logger)
	if err != nil {
		logger.Fatalf("tracker: wiring failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("tracker: signal received, shutting down")
		cancel()
	}()

	logger.Info("tracker: starting")
	if err := app.machine.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("tracker: fsm exited with error: %v", err)
	}
	logger.Info("tracker: shutdown complete")
}
