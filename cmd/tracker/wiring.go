package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/argos-tracker/hardware/articmodem"
	"github.com/bramburn/argos-tracker/internal/config"
	"github.com/bramburn/argos-tracker/internal/depthpile"
	"github.com/bramburn/argos-tracker/internal/dte"
	"github.com/bramburn/argos-tracker/internal/events"
	"github.com/bramburn/argos-tracker/internal/fsm"
	"github.com/bramburn/argos-tracker/internal/model"
	"github.com/bramburn/argos-tracker/internal/packet"
	"github.com/bramburn/argos-tracker/internal/scheduler"
	"github.com/bramburn/argos-tracker/internal/txservice"
)

// sensorServices lists the peer services the depth pile manager correlates
// against a GNSS session; underwater is handled separately as the
// immersion gate rather than a depth pile contributor.
var sensorServices = []model.ServiceID{
	model.ServiceALS,
	model.ServicePH,
	model.ServicePressure,
	model.ServiceSeaTemp,
	model.ServiceBaro,
}

// app bundles every wired component the entrypoint needs to run and stop.
type app struct {
	machine *fsm.Machine
}

func buildApp(store *config.FileStore, modemPort string, modemBaud int, dtePassword, dteListen string, dryRun bool, logger *logrus.Logger) (*app, error) {
	cfg := config.ArgosConfigFromStore(store)

	bus := events.NewBus()
	pile := depthpile.NewPile()
	manager := depthpile.NewManager(pile, bus, sensorConverter, sensorServices)
	manager.SetNtryPerMessage(cfg.NtryPerMessage)

	sched := scheduler.New()
	builder := packet.NewBuilder(cfg.ArgosID)

	var modem articmodem.Modem
	if dryRun {
		modem = articmodem.NewFakeModem()
	} else {
		modem = articmodem.NewSerialDriver(modemPort, modemBaud, logger)
	}

	gates := newAppGates()
	txsvc := txservice.New(store, pile, sched, modem, builder, gates, logger)

	services := &serviceSet{
		modem:   modem,
		manager: manager,
		tx:      txsvc,
		gates:   gates,
		bus:     bus,
		store:   store,
		logger:  logger,
	}

	resetter := &processResetter{store: store, logger: logger}
	dteHandler := dte.NewHandler(store, resetter, func() { logger.Debug("tracker: watchdog kicked by dte long operation") }, dtePassword)
	dteServer := dte.NewServer(dteHandler, tcpDialer(dteListen, logger), logger)

	storage := &fileBackedStorage{path: store.Path()}
	battery := gates.battery

	onLED := func(s fsm.State) { logger.Infof("tracker: led cue -> %s", s) }
	watchdogKick := func() { logger.Debug("tracker: watchdog kicked") }

	machine := fsm.New(storage, battery, services, dteServer, onLED, watchdogKick, logger)

	return &app{machine: machine}, nil
}

// sensorConverter maps a raw peer-service reading to its wire-ready
// integer form, dispatching on the service that produced it.
func sensorConverter(service model.ServiceID, sample model.SensorSample) uint32 {
	raw := sample.Port[0]
	switch service {
	case model.ServiceALS:
		return model.ConvertALS(raw)
	case model.ServicePH:
		return model.ConvertPH(raw)
	case model.ServicePressure:
		return model.ConvertPressureBar(raw)
	case model.ServiceSeaTemp:
		return model.ConvertSeaTemp(raw)
	case model.ServiceBaro:
		return model.ConvertBaro(raw, model.DefaultSensorCalibration)
	default:
		return 0
	}
}

// appGates implements txservice.Gates over an atomic immersion flag and a
// shared batteryMonitor, driven by bus events in serviceSet.StartAll.
type appGates struct {
	immersionWet atomic.Bool
	lowBattery   atomic.Bool
	outOfZone    atomic.Bool
	battery      *batteryMonitor
}

func newAppGates() *appGates {
	return &appGates{battery: &batteryMonitor{}}
}

func (g *appGates) ImmersionDry() bool     { return !g.immersionWet.Load() }
func (g *appGates) BatteryCritical() bool  { return g.battery.IsCritical() }
func (g *appGates) LowBatteryActive() bool { return g.lowBattery.Load() }
func (g *appGates) OutOfZoneActive() bool  { return g.outOfZone.Load() }

// batteryMonitor is the shared critical-battery flag consulted by both the
// FSM (to leave Operational) and the TX service gates (to withhold
// transmission). The underlying voltage sampling is an external hardware
// collaborator; this struct is the contract seam.
type batteryMonitor struct {
	critical atomic.Bool
}

func (b *batteryMonitor) IsCritical() bool   { return b.critical.Load() }
func (b *batteryMonitor) SetCritical(v bool) { b.critical.Store(v) }

// serviceSet adapts the depth pile manager, TX service, and the immersion
// bus subscription into the single fsm.ServiceSet contract the FSM starts
// and stops on entering/leaving Operational.
type serviceSet struct {
	modem   articmodem.Modem
	manager *depthpile.Manager
	tx      *txservice.Service
	gates   *appGates
	bus     *events.Bus
	store   config.Store
	logger  logrus.FieldLogger

	cancelImmersion context.CancelFunc
	immersionDone   chan struct{}
}

func (s *serviceSet) StartAll(ctx context.Context) error {
	if err := s.modem.Connect(ctx); err != nil {
		return fmt.Errorf("tracker: connect modem: %w", err)
	}
	s.manager.Start(ctx)
	if err := s.tx.Start(ctx); err != nil {
		return fmt.Errorf("tracker: start tx service: %w", err)
	}

	immersionCtx, cancel := context.WithCancel(ctx)
	s.cancelImmersion = cancel
	s.immersionDone = make(chan struct{})
	go s.watchImmersion(immersionCtx)

	return nil
}

func (s *serviceSet) StopAll() {
	if s.cancelImmersion != nil {
		s.cancelImmersion()
	}
	if s.immersionDone != nil {
		<-s.immersionDone
	}
	s.tx.Stop()
	s.manager.Stop()
	if err := s.modem.Disconnect(); err != nil {
		s.logger.Warnf("tracker: disconnect modem: %v", err)
	}
}

// watchImmersion translates ServiceUnderwater bus events (ACTIVE=WET,
// INACTIVE=DRY) into txservice.OnImmersionWet/Dry calls.
func (s *serviceSet) watchImmersion(ctx context.Context) {
	defer close(s.immersionDone)
	ch, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Service != model.ServiceUnderwater {
				continue
			}
			switch evt.Type {
			case events.ServiceActive:
				s.gates.immersionWet.Store(true)
				s.tx.OnImmersionWet()
			case events.ServiceInactive:
				s.gates.immersionWet.Store(false)
				cfg := config.ArgosConfigFromStore(s.store)
				s.tx.OnImmersionDry(ctx, cfg)
			}
		}
	}
}

// fileBackedStorage satisfies fsm.Storage; the on-flash config file is the
// only persisted state this firmware core owns, so
// "mount" is simply confirming the file is reachable and "format" recreates
// it from factory defaults.
type fileBackedStorage struct {
	path string
}

func (f *fileBackedStorage) Mount() error {
	if _, err := os.Stat(f.path); err != nil {
		return fmt.Errorf("tracker: config file unreachable: %w", err)
	}
	return nil
}

func (f *fileBackedStorage) FormatAndMount() error {
	fresh, err := config.OpenFileStore(f.path)
	if err != nil {
		return fmt.Errorf("tracker: recreate config file: %w", err)
	}
	return fresh.FactoryReset()
}

// processResetter implements dte.Resetter: RESET schedules a delayed
// process exit (the supervising init system restarts the binary, standing
// in for a hardware reset line) and FACTR wipes the config store, then
// schedules the same delayed exit.
type processResetter struct {
	store  *config.FileStore
	logger logrus.FieldLogger
}

func (r *processResetter) ScheduleReset(d time.Duration) {
	r.logger.Warnf("tracker: reset scheduled in %s", d)
	time.AfterFunc(d, func() {
		r.logger.Warn("tracker: resetting now")
		os.Exit(0)
	})
}

func (r *processResetter) FactoryReset() error {
	if err := r.store.FactoryReset(); err != nil {
		return err
	}
	r.ScheduleReset(dte.ResetDelay)
	return nil
}

// tcpDialer returns a dte.Dialer that accepts a single console connection
// at a time over a TCP listener, standing in for the BLE transport that
// sits below the DTE text protocol.
func tcpDialer(addr string, logger logrus.FieldLogger) dte.Dialer {
	var listener net.Listener
	return func(ctx context.Context) (dte.Transport, error) {
		if listener == nil {
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("tracker: listen %s: %w", addr, err)
			}
			logger.Infof("tracker: dte console listening on %s", addr)
			listener = l
		}
		conn, err := listener.Accept()
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
