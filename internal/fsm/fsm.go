// Package fsm implements the operational finite state machine (C9):
// Boot, PreOperational, Operational, Configuration, BatteryCritical,
// Error, and Off, plus the reed-switch gesture handling that drives
// transitions into/out of Configuration and Off. Machine.Run steps through
// the states one after another on the caller's goroutine; a
// runloop.RunLoop carries the repeating watchdog kick alongside it.
package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/argos-tracker/internal/runloop"
)

// State is one of the seven operational states.
type State int

const (
	StateBoot State = iota
	StatePreOperational
	StateOperational
	StateConfiguration
	StateBatteryCritical
	StateError
	StateOff
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "Boot"
	case StatePreOperational:
		return "PreOperational"
	case StateOperational:
		return "Operational"
	case StateConfiguration:
		return "Configuration"
	case StateBatteryCritical:
		return "BatteryCritical"
	case StateError:
		return "Error"
	case StateOff:
		return "Off"
	default:
		return "Unknown"
	}
}

// Gesture is one reed-switch interaction.
type Gesture int

const (
	GestureEngage Gesture = iota
	GestureRelease
	GestureShortHold
	GestureLongHold
)

// ConfigurationInactivityTimeout is the minimum console idle period before
// Configuration falls back to Off.
const ConfigurationInactivityTimeout = 5 * time.Minute

// BatteryCriticalTimeout is the delay before BatteryCritical falls through
// to Off.
const BatteryCriticalTimeout = 30 * time.Second

// ErrorTimeout is the delay before Error falls through to Off.
const ErrorTimeout = 5 * time.Second

// WatchdogReload is the nominal hardware watchdog reload period; the FSM
// kicks it at 90% of this value.
const WatchdogReload = 10 * time.Second

// WatchdogKickInterval is 90% of WatchdogReload.
const WatchdogKickInterval = WatchdogReload * 9 / 10

// Storage abstracts the mount/format operation Boot performs, so tests can
// inject failure without a real filesystem.
type Storage interface {
	Mount() error
	FormatAndMount() error
}

// BatteryMonitor reports whether the battery is currently in a critical
// state; the FSM subscribes to this during Operational.
type BatteryMonitor interface {
	IsCritical() bool
}

// ServiceSet is the set of dependent services (including the TX service)
// the FSM starts on entering Operational and stops on leaving it.
type ServiceSet interface {
	StartAll(ctx context.Context) error
	StopAll()
}

// ConsoleServer runs the DTE/BLE console while in Configuration.
type ConsoleServer interface {
	Start(ctx context.Context) error
	Stop()
	// LastActivity reports the time of the last console command processed,
	// used to evaluate the inactivity timeout.
	LastActivity() time.Time
}

// LEDCue signals a state-entry visual cue to the caller (hardware LED
// driver is out of scope; this is the seam).
type LEDCue func(state State)

// FatalError is returned from Boot when storage could not be mounted even
// after a format attempt.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fsm: fatal boot failure: %v", e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Machine drives the operational state machine on a runloop.RunLoop.
type Machine struct {
	mu    sync.Mutex
	state State

	storage  Storage
	battery  BatteryMonitor
	services ServiceSet
	console  ConsoleServer
	onLED    LEDCue
	logger   logrus.FieldLogger

	loop *runloop.RunLoop

	watchdogKick func()
	stopWatchdog func()

	gestures chan Gesture
}

// New constructs a Machine in StateBoot. logger may be nil, falling back
// to logrus.StandardLogger().
func New(storage Storage, battery BatteryMonitor, services ServiceSet, console ConsoleServer, onLED LEDCue, watchdogKick func(), logger logrus.FieldLogger) *Machine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if onLED == nil {
		onLED = func(State) {}
	}
	if watchdogKick == nil {
		watchdogKick = func() {}
	}
	return &Machine{
		state:        StateBoot,
		storage:      storage,
		battery:      battery,
		services:     services,
		console:      console,
		onLED:        onLED,
		logger:       logger,
		loop:         runloop.New(),
		watchdogKick: watchdogKick,
		gestures:     make(chan Gesture, 4),
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.onLED(s)
	m.logger.Infof("fsm: entering state %s", s)
}

// Run starts the machine's Boot sequence and blocks processing state
// transitions until ctx is cancelled or a FatalError occurs. cmd/tracker
// calls it on its main goroutine.
func (m *Machine) Run(ctx context.Context) error {
	m.loop.Start(ctx)
	defer m.loop.Stop()

	m.stopWatchdog = m.loop.PostEvery(WatchdogKickInterval, func(context.Context) {
		m.watchdogKick()
	})
	defer m.stopWatchdog()

	return m.boot(ctx)
}

func (m *Machine) boot(ctx context.Context) error {
	m.setState(StateBoot)

	err := m.storage.Mount()
	if err != nil {
		m.logger.Warnf("fsm: mount failed, attempting format: %v", err)
		if err := m.storage.FormatAndMount(); err != nil {
			return m.fatalBoot(ctx, err)
		}
	}

	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.preOperational(ctx)
}

// fatalBoot enters Error for the LED cue, then falls through to Off after
// ErrorTimeout, mirroring batteryCritical's timed fall-through to Off. The
// original mount failure is reported once the machine has settled into Off.
func (m *Machine) fatalBoot(ctx context.Context, cause error) error {
	m.setState(StateError)
	select {
	case <-time.After(ErrorTimeout):
	case <-ctx.Done():
		return ctx.Err()
	}
	m.setState(StateOff)
	return &FatalError{Cause: cause}
}

func (m *Machine) preOperational(ctx context.Context) error {
	m.setState(StatePreOperational)

	if m.battery != nil && m.battery.IsCritical() {
		return m.batteryCritical(ctx)
	}

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.operational(ctx)
}

func (m *Machine) operational(ctx context.Context) error {
	m.setState(StateOperational)

	if m.services != nil {
		if err := m.services.StartAll(ctx); err != nil {
			m.logger.Errorf("fsm: failed to start services: %v", err)
		}
	}
	defer func() {
		if m.services != nil {
			m.services.StopAll()
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case g := <-m.gestures:
			switch g {
			case GestureShortHold:
				return m.EnterConfiguration(ctx)
			case GestureLongHold:
				return m.off(ctx)
			default:
				m.logger.Debugf("fsm: gesture %d has no effect in Operational", g)
			}
		case <-ticker.C:
			if m.battery != nil && m.battery.IsCritical() {
				return m.batteryCritical(ctx)
			}
		}
	}
}

func (m *Machine) batteryCritical(ctx context.Context) error {
	m.setState(StateBatteryCritical)
	deadline := time.NewTimer(BatteryCriticalTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return m.off(ctx)
		case g := <-m.gestures:
			if g == GestureLongHold {
				return m.off(ctx)
			}
			m.logger.Debugf("fsm: gesture %d has no effect in BatteryCritical", g)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Machine) off(ctx context.Context) error {
	m.setState(StateOff)
	<-ctx.Done()
	return ctx.Err()
}

// EnterConfiguration is entered on a short-hold reed-switch gesture while
// Operational; it runs the console until inactivity falls back to Off, a
// long hold forces Off, or a second short hold toggles back to
// Operational.
func (m *Machine) EnterConfiguration(ctx context.Context) error {
	m.setState(StateConfiguration)

	if m.console != nil {
		if err := m.console.Start(ctx); err != nil {
			m.logger.Errorf("fsm: console start failed: %v", err)
		}
		defer m.console.Stop()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case g := <-m.gestures:
			switch g {
			case GestureShortHold:
				return m.operational(ctx)
			case GestureLongHold:
				return m.off(ctx)
			default:
				m.logger.Debugf("fsm: gesture %d has no effect in Configuration", g)
			}
		case <-ticker.C:
			if m.console != nil && time.Since(m.console.LastActivity()) >= ConfigurationInactivityTimeout {
				return m.off(ctx)
			}
		}
	}
}

// HandleGesture applies a reed-switch gesture's state-machine effect: a
// long hold always forces Off; a short hold toggles between Operational
// and Configuration (entering whichever one the machine is not currently
// in). Engage/Release carry no state-machine effect of their own. Gestures
// delivered while the machine isn't in a state that reads them (Boot,
// PreOperational, Error, Off) are dropped.
func (m *Machine) HandleGesture(g Gesture) {
	switch s := m.State(); s {
	case StateOperational, StateConfiguration, StateBatteryCritical:
	default:
		m.logger.Debugf("fsm: dropped reed-switch gesture %d in state %s", g, s)
		return
	}
	select {
	case m.gestures <- g:
	default:
		m.logger.Warnf("fsm: dropped reed-switch gesture %d, queue full", g)
	}
}
