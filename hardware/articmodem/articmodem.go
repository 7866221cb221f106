// Package articmodem defines the driver contract for the Arctic/Artic+
// satellite uplink modem and a serial-backed implementation. Grounded on
// hardware/topgnss/top708's Logger interface and mutex-guarded
// Connect/Disconnect/ReadRaw/WriteRaw device shape, with the transport
// itself following pkg/gnssgo/stream's go.bug.st/serial.Open/SetReadTimeout
// usage.
package articmodem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/bramburn/argos-tracker/internal/model"
)

// Logger is the structured logging surface the modem driver writes
// through; satisfied by *logrus.Logger and *logrus.Entry.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger discards everything; used when no logger is supplied.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// EventType classifies an asynchronous event the modem reports to its
// caller: TX-complete and underwater transitions are delivered through
// this channel at the TX service layer; the modem itself only reports
// what it observes on the wire.
type EventType int

const (
	EventTxComplete EventType = iota
	EventTxFailed
	EventRxPacket
)

// Event is a single asynchronous notification from the modem.
type Event struct {
	Type EventType
	Data []byte
}

// Modem is the contract the TX service drives: frequency/power/TCXO
// configuration, frame transmission, and in-flight cancellation.
type Modem interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SetFrequency(hz float64) error
	SetTCXOWarmup(d time.Duration) error
	SetPower(power model.ArgosPower) error
	Send(ctx context.Context, mode model.ArticMode, frame []byte, nbits int) error
	StopSend() error
	Events() <-chan Event
}

// SerialPort abstracts the subset of go.bug.st/serial.Port the driver
// needs, so tests can substitute a fake without opening a real device.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// SerialDriver drives a real modem over a serial link using go.bug.st/serial,
// matching the open/read-timeout pattern used elsewhere in the example
// pack for serial GNSS receivers.
type SerialDriver struct {
	mu       sync.Mutex
	port     SerialPort
	portName string
	baudRate int
	logger   Logger

	connected bool
	sending   bool
	stopChan  chan struct{}
	events    chan Event

	openFunc func(portName string, mode *serial.Mode) (SerialPort, error)
}

// NewSerialDriver constructs a driver for portName at baudRate. logger may
// be nil, in which case logging is discarded.
func NewSerialDriver(portName string, baudRate int, logger Logger) *SerialDriver {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SerialDriver{
		portName: portName,
		baudRate: baudRate,
		logger:   logger,
		events:   make(chan Event, 16),
		openFunc: func(name string, mode *serial.Mode) (SerialPort, error) {
			return serial.Open(name, mode)
		},
	}
}

// Connect opens the serial port, cancellable via ctx (the connect itself
// is synchronous, but a cancelled ctx aborts waiting on it), following the
// ConnectWithContext pattern of racing a result channel against ctx.Done().
func (d *SerialDriver) Connect(ctx context.Context) error {
	resultCh := make(chan error, 1)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.connected {
			resultCh <- nil
			return
		}
		mode := &serial.Mode{BaudRate: d.baudRate}
		port, err := d.openFunc(d.portName, mode)
		if err != nil {
			resultCh <- fmt.Errorf("articmodem: open %s: %w", d.portName, err)
			return
		}
		if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
			d.logger.Warnf("articmodem: set read timeout: %v", err)
		}
		d.port = port
		d.connected = true
		resultCh <- nil
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("articmodem: connect canceled: %w", ctx.Err())
	case err := <-resultCh:
		if err == nil {
			d.logger.Infof("articmodem: connected to %s at %d baud", d.portName, d.baudRate)
		}
		return err
	}
}

// Disconnect closes the serial port.
func (d *SerialDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	err := d.port.Close()
	d.connected = false
	d.port = nil
	if err != nil {
		return fmt.Errorf("articmodem: close: %w", err)
	}
	return nil
}

// SetFrequency writes the modem's uplink frequency command.
func (d *SerialDriver) SetFrequency(hz float64) error {
	return d.writeCommand(fmt.Sprintf("AT+FREQ=%.3f\r\n", hz))
}

// SetTCXOWarmup writes the modem's TCXO warmup duration command.
func (d *SerialDriver) SetTCXOWarmup(dur time.Duration) error {
	return d.writeCommand(fmt.Sprintf("AT+TCXO=%d\r\n", int(dur.Seconds())))
}

// SetPower writes the modem's TX power level command.
func (d *SerialDriver) SetPower(power model.ArgosPower) error {
	return d.writeCommand(fmt.Sprintf("AT+PWR=%d\r\n", power))
}

func (d *SerialDriver) writeCommand(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("articmodem: not connected")
	}
	_, err := d.port.Write([]byte(cmd))
	if err != nil {
		d.logger.Errorf("articmodem: write command failed: %v", err)
		return fmt.Errorf("articmodem: write command: %w", err)
	}
	return nil
}

// Send writes the frame bytes to the serial port and returns once the
// write completes; it does not wait for an acknowledgement from the modem,
// and mode and nbits are not sent to the modem. Completion is reported on
// Events() as EventTxComplete 50ms later, unless StopSend or ctx
// cancellation comes first.
func (d *SerialDriver) Send(ctx context.Context, mode model.ArticMode, frame []byte, nbits int) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return fmt.Errorf("articmodem: not connected")
	}
	d.sending = true
	port := d.port
	d.mu.Unlock()

	_, err := port.Write(frame)
	if err != nil {
		d.mu.Lock()
		d.sending = false
		d.mu.Unlock()
		return fmt.Errorf("articmodem: send: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Millisecond):
			d.mu.Lock()
			wasSending := d.sending
			d.sending = false
			d.mu.Unlock()
			if wasSending {
				select {
				case d.events <- Event{Type: EventTxComplete}:
				default:
				}
			}
		}
	}()
	return nil
}

// StopSend aborts an in-flight transmission, if any.
func (d *SerialDriver) StopSend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.sending {
		return nil
	}
	d.sending = false
	return d.writeCommandLocked("AT+STOP\r\n")
}

func (d *SerialDriver) writeCommandLocked(cmd string) error {
	if !d.connected {
		return nil
	}
	_, err := d.port.Write([]byte(cmd))
	return err
}

// Events returns the channel of asynchronous modem events.
func (d *SerialDriver) Events() <-chan Event {
	return d.events
}
